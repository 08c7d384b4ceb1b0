// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all workspaced configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Sandbox
	SandboxRoot   string
	WatchInterval time.Duration

	// Workspace store
	BatchWindow       time.Duration
	ReconcileInterval time.Duration

	// Local state (deleted-paths persistence)
	StateDir string

	// Document store ("postgres" or "memory")
	DocstoreBackend string
	DatabaseURL     string

	// Snapshot blob storage ("none", "local" or "s3")
	BlobBackend   string
	BlobLocalPath string

	// S3 blob settings
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:       envOr("METRICS_ADDR", ":9090"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "json"),
		SandboxRoot:       envOr("SANDBOX_ROOT", ""),
		WatchInterval:     envDuration("WATCH_INTERVAL", 2*time.Second),
		BatchWindow:       envDuration("BATCH_WINDOW", 100*time.Millisecond),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 30*time.Second),
		StateDir:          envOr("STATE_DIR", ""),
		DocstoreBackend:   envOr("DOCSTORE_BACKEND", "postgres"),
		DatabaseURL:       envOr("DATABASE_URL", ""),
		BlobBackend:       envOr("BLOB_BACKEND", "none"),
		BlobLocalPath:     envOr("BLOB_LOCAL_PATH", "/data/snapshots"),
		S3Endpoint:        envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:          envOr("S3_BUCKET", "draftbench-snapshots"),
		S3AccessKey:       envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:       envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		S3UseSSL:          envBool("S3_USE_SSL", false),
	}

	if cfg.SandboxRoot == "" {
		return nil, fmt.Errorf("SANDBOX_ROOT is required")
	}
	if cfg.DocstoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres docstore backend")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
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
