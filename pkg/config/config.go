package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetString reads an environment variable, falling back when unset or blank.
func GetString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

// GetInt reads an environment variable as an integer.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetBool reads an environment variable as a boolean.
func GetBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetDuration reads an environment variable in time.ParseDuration syntax.
func GetDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}
