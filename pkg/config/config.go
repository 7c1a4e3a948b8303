// Package config loads runtime configuration from environment variables,
// optionally overlaid by a named YAML execution profile.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds embedder-facing runtime configuration.
type Config struct {
	LogLevel string

	// Data source selection: "memory", "sqlite", "postgres", "redis" or "s3".
	DataSourceDriver string
	DatabaseURL      string
	RedisURL         string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string

	// Transaction defaults.
	MaxRetries int
	RetryDelay time.Duration

	// API caller defaults.
	APITimeout time.Duration

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load reads configuration from ACTIONCORE_* environment variables,
// falling back to local-development defaults.
func Load() *Config {
	return &Config{
		LogLevel:         envOr("ACTIONCORE_LOG_LEVEL", "INFO"),
		DataSourceDriver: envOr("ACTIONCORE_DATASOURCE", "memory"),
		DatabaseURL:      envOr("ACTIONCORE_DATABASE_URL", ""),
		RedisURL:         envOr("ACTIONCORE_REDIS_URL", ""),
		S3Bucket:         envOr("ACTIONCORE_S3_BUCKET", ""),
		S3Region:         envOr("ACTIONCORE_S3_REGION", ""),
		S3Endpoint:       envOr("ACTIONCORE_S3_ENDPOINT", ""),
		MaxRetries:       envInt("ACTIONCORE_MAX_RETRIES", 3),
		RetryDelay:       envDuration("ACTIONCORE_RETRY_DELAY", 100*time.Millisecond),
		APITimeout:       envDuration("ACTIONCORE_API_TIMEOUT", 30*time.Second),
		TelemetryEnabled: os.Getenv("ACTIONCORE_TELEMETRY") == "true",
		OTLPEndpoint:     envOr("ACTIONCORE_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
