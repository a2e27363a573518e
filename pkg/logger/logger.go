package logger

import (
	"os"
	"strings"

	"log/slog"
)

// New returns a JSON slog.Logger tagged with the service name. The level is
// taken from LOG_LEVEL (debug, info, warn, error), defaulting to info.
func New(service string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	return slog.New(h).With("service", service)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
