// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gridlock

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds Gridlock service configuration options.
//
// # Description
//
// Config centralizes all configuration for the service. Values can be
// populated from a YAML file, environment variables, or programmatically
// for testing. LoadConfig applies them in that order, so environment
// variables override the file.
type Config struct {
	// Port is the HTTP server port. Default: 12400.
	Port int `yaml:"port"`

	// DBPath is the BadgerDB directory. Default: "./data/gridlock".
	DBPath string `yaml:"db_path"`

	// DBInMemory runs the store without disk persistence. Testing only.
	DBInMemory bool `yaml:"db_in_memory"`

	// PuzzleDir is the puzzle catalog directory. Default: "./puzzles".
	PuzzleDir string `yaml:"puzzle_dir"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "gridlock-otel-collector:4317".
	OTelEndpoint string `yaml:"otel_endpoint"`

	// EnableMetrics enables the Prometheus /metrics endpoint. Default: true.
	EnableMetrics bool `yaml:"enable_metrics"`

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses the GIN_MODE env var or "release".
	GinMode string `yaml:"gin_mode"`

	// CacheCapacity is the session cache bound. Default: 1000.
	CacheCapacity int `yaml:"cache_capacity"`

	// CacheThreshold is the fraction of capacity LRU cleanup shrinks to.
	// Default: 0.9.
	CacheThreshold float64 `yaml:"cache_threshold"`

	// SaveDebounce is the write-coalescing window. Default: 1s.
	SaveDebounce time.Duration `yaml:"save_debounce"`

	// NotifyBuffer is the post-commit event queue size. Default: 256.
	NotifyBuffer int `yaml:"notify_buffer"`
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12400
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/gridlock"
	}
	if cfg.PuzzleDir == "" {
		cfg.PuzzleDir = "./puzzles"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "gridlock-otel-collector:4317"
	}
	cfg.EnableMetrics = true
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 1000
	}
	if cfg.CacheThreshold == 0 {
		cfg.CacheThreshold = 0.9
	}
	if cfg.SaveDebounce == 0 {
		cfg.SaveDebounce = time.Second
	}
	if cfg.NotifyBuffer == 0 {
		cfg.NotifyBuffer = 256
	}
	return cfg
}

// LoadConfig builds the configuration from an optional YAML file plus
// environment variables.
//
// # Description
//
// If path is non-empty the file is parsed first; environment variables
// then override individual fields. Defaults are NOT applied here; New()
// applies them, so a zero Config still works.
//
// # Environment Variables
//
//   - GRIDLOCK_PORT: HTTP server port
//   - GRIDLOCK_DB_PATH: BadgerDB directory
//   - GRIDLOCK_PUZZLE_DIR: puzzle catalog directory
//   - GRIDLOCK_SAVE_DEBOUNCE_MS: debounce window in milliseconds
//   - GRIDLOCK_CACHE_CAPACITY: session cache bound
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("GRIDLOCK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("GRIDLOCK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GRIDLOCK_PUZZLE_DIR"); v != "" {
		cfg.PuzzleDir = v
	}
	if v := os.Getenv("GRIDLOCK_SAVE_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.SaveDebounce = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("GRIDLOCK_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheCapacity = n
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}

	return cfg, nil
}
