package config

import "time"

// ServiceConfig holds runtime configuration for the meeting API service.
type ServiceConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	EventStreamMaxLen  int
	MeetingsEnabled    bool
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ShutdownTimeout    time.Duration
}

// LoadServiceConfig constructs a ServiceConfig from environment variables.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://huddle:huddle@db:5432/huddle?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		RedisAddr:          GetString("REDIS_ADDR", ""),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		EventStreamMaxLen:  GetInt("EVENT_STREAM_MAX_LEN", 10000),
		MeetingsEnabled:    GetBool("MEETINGS_ENABLED", true),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ShutdownTimeout:    GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
