// Package config loads the store configuration from YAML. Absent values keep
// their defaults, so a minimal file naming just the storage directory is
// valid.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Eviction tunes the entity cache eviction heuristic.
type Eviction struct {
	TimeoutMs int64 `yaml:"timeoutMs"`
	Threshold int64 `yaml:"threshold"`
}

// Housekeeping tunes the per-channel maintenance loop.
type Housekeeping struct {
	Interval      time.Duration `yaml:"interval"`
	CacheBudget   time.Duration `yaml:"cacheBudget"`
	GCBudget      time.Duration `yaml:"gcBudget"`
	CleanupBudget time.Duration `yaml:"cleanupBudget"`
}

// Backup names the backup destination and catalog.
type Backup struct {
	Dest    string `yaml:"dest"`
	Catalog string `yaml:"catalog"`
}

// Config is the root configuration.
type Config struct {
	Dir          string       `yaml:"dir"`
	Channels     int32        `yaml:"channels"`
	RotateSize   int64        `yaml:"rotateSize"`
	Eviction     Eviction     `yaml:"eviction"`
	Housekeeping Housekeeping `yaml:"housekeeping"`
	Backup       Backup       `yaml:"backup"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Channels:   1,
		RotateSize: 1 << 30,
		Eviction: Eviction{
			TimeoutMs: int64(24 * time.Hour / time.Millisecond),
			Threshold: 1 << 30,
		},
		Housekeeping: Housekeeping{
			Interval:      time.Second,
			CacheBudget:   50 * time.Millisecond,
			GCBudget:      50 * time.Millisecond,
			CleanupBudget: 50 * time.Millisecond,
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the store cannot run with.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: storage dir is required")
	}
	if c.Channels < 1 {
		return fmt.Errorf("config: channels must be >= 1, got %d", c.Channels)
	}
	if c.RotateSize < 1 {
		return fmt.Errorf("config: rotateSize must be >= 1, got %d", c.RotateSize)
	}
	if c.Eviction.TimeoutMs < 1 {
		return fmt.Errorf("config: eviction timeoutMs must be >= 1, got %d", c.Eviction.TimeoutMs)
	}
	if c.Eviction.Threshold < 1 {
		return fmt.Errorf("config: eviction threshold must be >= 1, got %d", c.Eviction.Threshold)
	}
	if c.Housekeeping.Interval <= 0 {
		return fmt.Errorf("config: housekeeping interval must be positive, got %s", c.Housekeeping.Interval)
	}
	return nil
}
