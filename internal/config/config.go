package config

import (
	"os"
	"strings"
	"time"
)

const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

type Config struct {
	Port          string
	LogLevel      string
	AuthToken     string
	StoreDriver   string
	BadgerDir     string
	DatabaseURL   string
	MigrationsDir string
	OperationTTL  time.Duration
	CursorTTL     time.Duration
	StoreTimeout  time.Duration
}

func Load() Config {
	cfg := Config{
		Port:          envOrDefault("OPSYNC_PORT", "8091"),
		LogLevel:      envOrDefault("OPSYNC_LOG_LEVEL", "info"),
		AuthToken:     strings.TrimSpace(os.Getenv("OPSYNC_AUTH_TOKEN")),
		StoreDriver:   envOrDefault("OPSYNC_STORE_DRIVER", DriverBadger),
		BadgerDir:     envOrDefault("OPSYNC_BADGER_DIR", "opsync-data"),
		DatabaseURL:   envOrDefault("OPSYNC_DATABASE_URL", "file:opsync.db"),
		MigrationsDir: envOrDefault("OPSYNC_MIGRATIONS_DIR", "migrations"),
		OperationTTL:  durationOrDefault("OPSYNC_OPERATION_TTL", 7*24*time.Hour),
		CursorTTL:     durationOrDefault("OPSYNC_CURSOR_TTL", 30*24*time.Hour),
		StoreTimeout:  durationOrDefault("OPSYNC_STORE_TIMEOUT", 5*time.Second),
	}
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && d > 0 {
		return d
	}
	return fallback
}
