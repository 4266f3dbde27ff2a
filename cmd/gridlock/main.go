// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gridlock starts the Gridlock collaborative crossword server.
//
// This is the main entry point for the containerized session service.
// It reads configuration from an optional YAML file plus environment
// variables and starts the server.
//
// # Environment Variables
//
//   - GRIDLOCK_CONFIG_FILE: YAML config file path (optional)
//   - GRIDLOCK_PORT: HTTP server port (default: 12400)
//   - GRIDLOCK_DB_PATH: BadgerDB directory (default: ./data/gridlock)
//   - GRIDLOCK_PUZZLE_DIR: puzzle catalog directory (default: ./puzzles)
//   - GRIDLOCK_LOG_DIR: directory for JSON log files (default: stderr only)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: gridlock-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o gridlock ./cmd/gridlock
//
//	# Run
//	./gridlock
//
//	# Or via container
//	podman-compose up gridlock
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/Gridlock/pkg/logging"
	"github.com/AleutianAI/Gridlock/services/gridlock"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Service: "gridlock",
		JSON:    true,
		LogDir:  os.Getenv("GRIDLOCK_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := gridlock.LoadConfig(os.Getenv("GRIDLOCK_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create the service with the default header-based identity provider.
	// Deployments with their own auth stack pass a custom provider here.
	svc, err := gridlock.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create gridlock service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gridlock error: %v", err)
	}
}
