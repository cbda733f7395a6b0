// Package config handles context engine configuration from YAML files and
// environment variables.
//
// Configuration is loaded with Default(), optionally merged from a YAML
// file via LoadFile(), overridden by CTXENGINE_* environment variables via
// ApplyEnv(), and checked with Validate() before use.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("engine.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg.ApplyEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//   - CTXENGINE_DIMENSIONS=1024
//   - CTXENGINE_INDEX_KIND=hnsw
//   - CTXENGINE_CACHE_MAX_ENTRIES=4096
//   - CTXENGINE_CACHE_MAX_BYTES=67108864
//   - CTXENGINE_CACHE_TTL=5m
//   - CTXENGINE_CACHE_SPILL_DIR=/var/cache/ctxengine
//   - CTXENGINE_LOG_LEVEL=info
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all context engine configuration.
type Config struct {
	// Dimensions is the embedding dimensionality, fixed for the lifetime
	// of an engine instance.
	Dimensions int `yaml:"dimensions"`

	// IndexKind selects the similarity index: flat, ivf, hnsw, or auto.
	IndexKind string `yaml:"index_kind"`

	Cache CacheConfig `yaml:"cache"`

	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig controls the query memoization layer.
type CacheConfig struct {
	// MaxEntries bounds resident cache entries.
	MaxEntries int `yaml:"max_entries"`

	// MaxBytes bounds resident cache bytes (0 = unbounded).
	MaxBytes int64 `yaml:"max_bytes"`

	// TTL is the default time-to-live for cached query results.
	TTL time.Duration `yaml:"ttl"`

	// SpillDir enables disk spill-over when non-empty. Spilled entries
	// survive restarts.
	SpillDir string `yaml:"spill_dir"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Empty disables logging.
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Dimensions: 1024,
		IndexKind:  "auto",
		Cache: CacheConfig{
			MaxEntries: 1024,
			MaxBytes:   64 << 20,
			TTL:        5 * time.Minute,
		},
	}
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CTXENGINE_* environment variables.
// Unset variables leave the current values untouched.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CTXENGINE_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dimensions = n
		}
	}
	if v := os.Getenv("CTXENGINE_INDEX_KIND"); v != "" {
		c.IndexKind = v
	}
	if v := os.Getenv("CTXENGINE_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("CTXENGINE_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Cache.MaxBytes = n
		}
	}
	if v := os.Getenv("CTXENGINE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("CTXENGINE_CACHE_SPILL_DIR"); v != "" {
		c.Cache.SpillDir = v
	}
	if v := os.Getenv("CTXENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Dimensions)
	}
	switch c.IndexKind {
	case "flat", "ivf", "hnsw", "auto":
	default:
		return fmt.Errorf("index_kind must be flat, ivf, hnsw, or auto, got %q", c.IndexKind)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must be non-negative, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache max_bytes must be non-negative, got %d", c.Cache.MaxBytes)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
