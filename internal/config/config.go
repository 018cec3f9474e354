// Package config provides configuration loading for msgvault.
//
// Configuration is environment variables only: there is no config file and
// no CLI flags. The daemon fails fast at startup when required variables
// are absent.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete msgvault configuration.
type Config struct {
	Mongo     MongoConfig     `koanf:"mongo"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Reconnect ReconnectConfig `koanf:"reconnect"`
}

// MongoConfig holds the persistence store connection settings.
type MongoConfig struct {
	// URI is the MongoDB connection string. Required.
	URI string `koanf:"uri"`
	// Database is the database name. Defaults to "msgvault".
	Database string `koanf:"database"`
}

// AuthConfig holds the socket auth-state provider settings.
type AuthConfig struct {
	// StatePath is the storage path for opaque session credentials.
	StatePath string `koanf:"state_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig holds the optional Prometheus exposition listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the listener.
	Addr string `koanf:"addr"`
}

// ReconnectConfig bounds the supervisor's reconnect retry loop.
type ReconnectConfig struct {
	MaxAttempts     int      `koanf:"max_attempts"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - MONGO_URI: MongoDB connection string (required)
//   - MONGO_DATABASE: database name (default: msgvault)
//   - AUTH_STATE_PATH: session credential storage path (default: msgvault.db)
//   - LOG_LEVEL: trace|debug|info|warn|error (default: info)
//   - LOG_FORMAT: json|console (default: json)
//   - METRICS_ADDR: Prometheus listen address (default: disabled)
//   - RECONNECT_MAX_ATTEMPTS: reconnect attempt bound (default: 5)
//   - RECONNECT_INITIAL_INTERVAL: first reconnect backoff (default: 1s)
//   - RECONNECT_MAX_INTERVAL: backoff ceiling (default: 30s)
func Load() (*Config, error) {
	cfg := &Config{
		Mongo: MongoConfig{
			Database: "msgvault",
		},
		Auth: AuthConfig{
			StatePath: "msgvault.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:     5,
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(30 * time.Second),
		},
	}

	k := koanf.New(".")

	// Environment variables map to config keys by lowercasing and splitting
	// on the first underscore: MONGO_URI -> mongo.uri,
	// RECONNECT_MAX_ATTEMPTS -> reconnect.max_attempts. Variables that do
	// not match a known key are ignored by Unmarshal.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		parts := strings.SplitN(strings.ToLower(s), "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("MONGO_URI is required")
	}
	if c.Mongo.Database == "" {
		return errors.New("database name cannot be empty")
	}
	if c.Auth.StatePath == "" {
		return errors.New("auth state path cannot be empty")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Log.Format)
	}

	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect max attempts must be >= 1, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Reconnect.InitialInterval.Duration() <= 0 {
		return errors.New("reconnect initial interval must be positive")
	}
	if c.Reconnect.MaxInterval.Duration() < c.Reconnect.InitialInterval.Duration() {
		return errors.New("reconnect max interval must be >= initial interval")
	}

	return nil
}
