// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/klee/careerfly/internal/models"
)

// Config holds every runtime setting of the core.
type Config struct {
	// DataDir is where the embedded store and exports live.
	DataDir string `validate:"required"`
	// UserID scopes all collections; "guest" for local-only use.
	UserID string `validate:"required"`
	// RemoteURL is the CouchDB server address; required when sync is on.
	RemoteURL string `validate:"required_if=SyncEnabled true,omitempty,url"`
	// SyncEnabled turns the sync engine on at startup.
	SyncEnabled bool
	// SyncPushTimeout bounds a single push.
	SyncPushTimeout time.Duration `validate:"min=0"`
	// BridgeAddr is the localhost event bridge listen address.
	BridgeAddr string `validate:"required,hostname_port"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `validate:"oneof=debug info warn error"`
}

// Load reads an optional .env file, then the environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:         envOr("CAREERFLY_DATA_DIR", defaultDataDir()),
		UserID:          envOr("CAREERFLY_USER_ID", models.GuestUserID),
		RemoteURL:       os.Getenv("CAREERFLY_REMOTE_URL"),
		SyncEnabled:     envBool("CAREERFLY_SYNC_ENABLED", false),
		SyncPushTimeout: envDuration("CAREERFLY_SYNC_PUSH_TIMEOUT", 10*time.Second),
		BridgeAddr:      envOr("CAREERFLY_BRIDGE_ADDR", "127.0.0.1:8090"),
		LogLevel:        envOr("CAREERFLY_LOG_LEVEL", "info"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return home + "/.careerfly"
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
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
