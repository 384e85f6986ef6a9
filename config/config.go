// Package config loads the control-plane configuration from the
// environment, with optional .env support for development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the control plane.
type Config struct {
	// ScyllaHosts are the cluster contact points.
	ScyllaHosts []string
	// Keyspace holding the control-plane tables.
	Keyspace string
	// PollInterval paces the change-feed monitors.
	PollInterval time.Duration
	// LogLevel is the minimum level emitted.
	LogLevel slog.Level
	// LogJSON switches the log output to JSON.
	LogJSON bool
}

// Load reads the configuration from the environment. A .env file in
// the working directory is merged in first, if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ScyllaHosts:  splitHosts(envOrDefault("SCYLLA_HOSTS", "127.0.0.1")),
		Keyspace:     envOrDefault("SCYLLA_KEYSPACE", "vector_store"),
		PollInterval: time.Second,
		LogLevel:     slog.LevelInfo,
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid POLL_INTERVAL %q: %w", v, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("config: POLL_INTERVAL must be positive, got %q", v)
		}
		cfg.PollInterval = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLevel(v)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid LOG_JSON %q: %w", v, err)
		}
		cfg.LogJSON = b
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitHosts(s string) []string {
	parts := strings.Split(s, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown LOG_LEVEL %q", s)
	}
}
