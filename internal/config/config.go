// Package config loads and validates corkboard.yml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects the authoritative store backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // "redis" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// Config represents the top-level corkboard.yml configuration.
type Config struct {
	Version          string         `yaml:"version"`
	RedisURL         string         `yaml:"redis_url"`
	Storage          *StorageConfig `yaml:"storage,omitempty"`
	ThrottleWindowMs int            `yaml:"throttle_window_ms,omitempty"` // 0 = default (100)
	SweepInterval    string         `yaml:"sweep_interval,omitempty"`     // Go duration, empty = no sweeping
}

// ThrottleWindow returns the configured gesture coalescing window, or
// zero to use the built-in default.
func (c *Config) ThrottleWindow() time.Duration {
	if c.ThrottleWindowMs <= 0 {
		return 0
	}
	return time.Duration(c.ThrottleWindowMs) * time.Millisecond
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: redis_url (the broadcast channel always rides Redis)
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}

	if c.Storage != nil {
		switch c.Storage.Backend {
		case "redis":
			if c.Storage.PostgresDSN != "" {
				return fmt.Errorf("postgres_dsn is only valid with backend: postgres")
			}
		case "postgres":
			if c.Storage.PostgresDSN == "" {
				return fmt.Errorf("postgres_dsn is required with backend: postgres")
			}
		default:
			return fmt.Errorf("unknown storage backend: %q (expected: redis or postgres)", c.Storage.Backend)
		}
	}

	if c.ThrottleWindowMs < 0 {
		return fmt.Errorf("throttle_window_ms must be >= 0, got %d", c.ThrottleWindowMs)
	}

	if c.SweepInterval != "" {
		d, err := time.ParseDuration(c.SweepInterval)
		if err != nil {
			return fmt.Errorf("invalid sweep_interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
		}
	}

	return nil
}

// Load reads and validates a corkboard.yml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
