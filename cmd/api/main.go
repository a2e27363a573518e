package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/splax/huddle/internal/app/migrate"
	httpx "github.com/splax/huddle/internal/http"
	"github.com/splax/huddle/internal/repository/postgres"
	"github.com/splax/huddle/internal/service/meeting"
	"github.com/splax/huddle/internal/service/note"
	"github.com/splax/huddle/internal/service/notify"
	"github.com/splax/huddle/internal/service/participant"
	"github.com/splax/huddle/internal/service/policy"
	"github.com/splax/huddle/internal/service/resource"
	"github.com/splax/huddle/internal/ws"
	"github.com/splax/huddle/pkg/config"
	"github.com/splax/huddle/pkg/logger"
)

func main() {
	cfg := config.LoadServiceConfig()
	log := logger.New("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	var gate policy.Gate = policy.StaticGate{Value: cfg.MeetingsEnabled}
	var streamClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisGate, err := policy.NewRedisGate(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis policy gate unavailable", "error", err)
		} else {
			gate = redisGate
		}
		streamClient, err = notify.NewStream(addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis event stream unavailable", "error", err)
			streamClient = nil
		}
	}
	defer gate.Close()

	notifier := notify.New(hub, streamClient, log, int64(cfg.EventStreamMaxLen))
	defer notifier.Close()

	registry := participant.New(repo, log)
	arbiter := resource.New(repo, log)
	meetingSvc := meeting.New(repo, registry, arbiter, gate, notifier, log)
	noteSvc := note.New(repo, repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, meetingSvc, noteSvc, hub, limiter, cfg.JWTSecret, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
