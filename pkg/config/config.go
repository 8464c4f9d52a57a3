// Package config loads runtime configuration from environment variables with
// sensible local defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds pipeline configuration.
type Config struct {
	LogLevel string

	// SQLite DSN for the evidence store and trace ledger.
	DatabaseDSN string

	// Bundle archive backend: "file", "s3" or "gcs".
	BundleBackend  string
	BundleDir      string
	BundleBucket   string
	BundleRegion   string
	BundleEndpoint string

	// External document renderer.
	RendererEndpoint   string
	InteractiveTimeout time.Duration
	AutomatedTimeout   time.Duration

	// Observability.
	OTLPEndpoint     string
	TelemetryEnabled bool

	// Optional Redis-backed run coordination for multi-node deployments.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment.
func Load() *Config {
	cfg := &Config{
		LogLevel:           envOr("LOG_LEVEL", "INFO"),
		DatabaseDSN:        envOr("DOSSIER_DB_DSN", "file:dossier.db?_pragma=journal_mode(WAL)"),
		BundleBackend:      envOr("BUNDLE_BACKEND", "file"),
		BundleDir:          envOr("BUNDLE_DIR", "bundles"),
		BundleBucket:       os.Getenv("BUNDLE_BUCKET"),
		BundleRegion:       os.Getenv("BUNDLE_REGION"),
		BundleEndpoint:     os.Getenv("BUNDLE_ENDPOINT"),
		RendererEndpoint:   envOr("RENDERER_ENDPOINT", "http://localhost:8090"),
		InteractiveTimeout: envDuration("RENDERER_INTERACTIVE_TIMEOUT", 30*time.Second),
		AutomatedTimeout:   envDuration("RENDERER_AUTOMATED_TIMEOUT", 5*time.Minute),
		OTLPEndpoint:       envOr("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:   os.Getenv("TELEMETRY_ENABLED") == "true",
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            envInt("REDIS_DB", 0),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
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
