package policy

import (
	"context"
	"strings"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// Gate answers whether the meeting capability is enabled for a tenant.
// It is consulted at creation time only.
type Gate interface {
	Enabled(ctx context.Context, orgID string) bool
	Close()
}

// StaticGate is a fixed-answer gate used when no flag store is configured.
type StaticGate struct {
	Value bool
}

// Enabled returns the fixed answer.
func (g StaticGate) Enabled(context.Context, string) bool { return g.Value }

// Close is a no-op.
func (g StaticGate) Close() {}

type redisGate struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisGate constructs a Redis backed gate. A tenant is disabled only by
// an explicit off value under the policy key; unset keys and Redis outages
// fail open.
func NewRedisGate(addr, password string, db int, logger *slog.Logger) (Gate, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisGate{
		client:  client,
		logger:  logger,
		prefix:  "huddle:policy:meeting:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (g *redisGate) Enabled(ctx context.Context, orgID string) bool {
	opCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	value, err := g.client.Get(opCtx, g.prefix+orgID).Result()
	if err != nil {
		if err != redis.Nil {
			g.logger.Warn("policy lookup failed", "org_id", orgID, "error", err)
		}
		return true
	}
	return !disabledValue(value)
}

func disabledValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "off", "disabled":
		return true
	}
	return false
}

func (g *redisGate) Close() {
	if g.client != nil {
		_ = g.client.Close()
	}
}
