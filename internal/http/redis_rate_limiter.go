package httpx

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// redisRateLimiter shares one fixed window per key across API replicas.
// Counter, expiry, and TTL read go out as a single pipelined round trip.
// Redis being unreachable fails open.
type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter constructs a Redis backed rate limiter. It owns the
// client it creates.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "huddle:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	pipe := rl.client.Pipeline()
	counter := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		if rl.logger != nil {
			rl.logger.Error("redis rate limiter error", "error", err)
		}
		return rateDecision{allowed: true}
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	count := int(counter.Val())
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}
