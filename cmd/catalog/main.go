// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command catalog starts the theorem library catalog HTTP server.
//
// This is the main entry point for the containerized catalog service.
// Configuration layers, later wins: embedded defaults, the YAML file named
// by THEOREMLIB_CONFIG, then individual environment variables.
//
// # Environment Variables
//
//   - THEOREMLIB_CONFIG: Path to a YAML config file (optional; enables hot reload)
//   - THEOREMLIB_LISTEN_ADDRESS: HTTP listen address (default: :8080)
//   - THEOREMLIB_QUEUE_CAPACITY: Jobs in flight per pipeline before rejects (default: 3)
//   - THEOREMLIB_QUEUE_WORKERS: Workers per pipeline (default: 1)
//   - THEOREMLIB_VERIFICATION_ENDPOINT: Verification collaborator URL
//   - THEOREMLIB_COMPILATION_ENDPOINT: Compilation collaborator URL
//   - THEOREMLIB_CHECKOUT_ROOT: Directory holding project checkouts
//   - THEOREMLIB_DATA_DIR: Badger database directory
//   - THEOREMLIB_STORAGE_IN_MEMORY: Keep the catalog in RAM only (default: false)
//   - THEOREMLIB_PDF_BASE_URL: Base URL for compiled paper links
//   - THEOREMLIB_INTERNAL_TOKEN: Bearer token for /internal/v1 (never in the file)
//   - THEOREMLIB_LOG_LEVEL: debug, info, warn, or error (default: info)
//   - THEOREMLIB_LOG_DIR: Also write JSON logs to this directory (optional)
//   - OTEL_TRACES_EXPORTER: none, otlp, jaeger, or stdout (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint (default: localhost:4317)
//
// # Usage
//
//	# Build
//	go build -o catalog ./cmd/catalog
//
//	# Run
//	THEOREMLIB_CONFIG=/etc/theoremlib/catalog.yaml ./catalog
//
//	# Or via container
//	podman-compose up catalog
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/maxwell3025/theorem-library/pkg/logging"
	"github.com/maxwell3025/theorem-library/services/catalog"
	"github.com/maxwell3025/theorem-library/services/catalog/config"
)

func main() {
	// Setup structured logging
	logLevel := logging.LevelInfo
	badLevel := ""
	if raw := os.Getenv("THEOREMLIB_LOG_LEVEL"); raw != "" {
		lvl, err := logging.ParseLevel(raw)
		if err != nil {
			badLevel = raw
		}
		logLevel = lvl
	}
	logger := logging.New(logging.Config{
		Level:   logLevel,
		LogDir:  os.Getenv("THEOREMLIB_LOG_DIR"),
		Service: "catalog",
		JSON:    true,
	})
	slog.SetDefault(logger.Slog())
	if badLevel != "" {
		slog.Warn("Unknown THEOREMLIB_LOG_LEVEL, using info", "value", badLevel)
	}

	cfg, err := config.Load(os.Getenv("THEOREMLIB_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Environment variables override the file.
	cfg.Server.ListenAddress = getEnvString("THEOREMLIB_LISTEN_ADDRESS", cfg.Server.ListenAddress)
	cfg.Queue.Capacity = getEnvInt("THEOREMLIB_QUEUE_CAPACITY", cfg.Queue.Capacity)
	cfg.Queue.Workers = getEnvInt("THEOREMLIB_QUEUE_WORKERS", cfg.Queue.Workers)
	cfg.Collaborators.VerificationEndpoint = getEnvString("THEOREMLIB_VERIFICATION_ENDPOINT",
		cfg.Collaborators.VerificationEndpoint)
	cfg.Collaborators.CompilationEndpoint = getEnvString("THEOREMLIB_COMPILATION_ENDPOINT",
		cfg.Collaborators.CompilationEndpoint)
	cfg.Checkout.Root = getEnvString("THEOREMLIB_CHECKOUT_ROOT", cfg.Checkout.Root)
	cfg.Storage.DataDir = getEnvString("THEOREMLIB_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.InMemory = getEnvBool("THEOREMLIB_STORAGE_IN_MEMORY", cfg.Storage.InMemory)
	cfg.Paper.PDFBaseURL = getEnvString("THEOREMLIB_PDF_BASE_URL", cfg.Paper.PDFBaseURL)
	cfg.Tracing.Exporter = getEnvString("OTEL_TRACES_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.Tracing.Environment = getEnvString("THEOREMLIB_ENV", cfg.Tracing.Environment)

	// The internal token only ever travels through the environment.
	cfg.InternalToken = os.Getenv("THEOREMLIB_INTERNAL_TOKEN")

	// Re-validate: the file was checked by Load, the env overrides were not.
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	slog.Info("Starting catalog",
		"listen_address", cfg.Server.ListenAddress,
		"config_file", cfg.Path,
		"checkout_root", cfg.Checkout.Root,
		"data_dir", cfg.Storage.DataDir,
		"in_memory", cfg.Storage.InMemory,
		"queue_capacity", cfg.Queue.Capacity,
		"queue_workers", cfg.Queue.Workers,
		"internal_auth", cfg.InternalToken != "",
	)

	svc, err := catalog.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create catalog: %v", err)
	}

	// Run the server (blocks until shutdown)
	err = svc.Run()
	logger.Close()
	if err != nil {
		log.Fatalf("Catalog error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
