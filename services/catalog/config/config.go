// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides file configuration for the catalog service.
//
// Configuration is layered: embedded defaults, then an optional YAML file,
// then environment overrides applied by the service binary. The Watcher
// re-reads the file on change so tunables (collaborator endpoints, submit
// rate limit) can move without a restart.
//
// Thread Safety:
//
//	Config values are plain data; copy them freely. The Watcher is safe for
//	concurrent use.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxConfigFileSize is the maximum allowed config file size (1MB).
	// Prevents memory issues from large files.
	MaxConfigFileSize = 1024 * 1024
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// Types
// =============================================================================

// Config is the catalog service configuration.
type Config struct {
	// Server: HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Queue: per-pipeline job queue sizing.
	Queue QueueConfig `yaml:"queue"`

	// Collaborators: endpoints of the external test services.
	Collaborators CollaboratorConfig `yaml:"collaborators"`

	// Checkout: where the fetch service materializes repo trees.
	Checkout CheckoutConfig `yaml:"checkout"`

	// Storage: Badger persistence settings.
	Storage StorageConfig `yaml:"storage"`

	// Paper: published-paper URL settings.
	Paper PaperConfig `yaml:"paper"`

	// Limits: admission limits for the public surface.
	Limits LimitConfig `yaml:"limits"`

	// Tracing: OpenTelemetry exporter settings.
	Tracing TracingConfig `yaml:"tracing"`

	// InternalToken guards POST /internal/v1/status. Secrets never live in
	// the YAML file; the binary injects this from the environment.
	InternalToken string `yaml:"-"`

	// Path records where the file layer was loaded from, empty when only
	// defaults apply. The watcher needs it to re-read the same file.
	Path string `yaml:"-"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddress          string `yaml:"listen_address"`           // e.g. ":8080"
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"` // drain window on SIGTERM
}

// QueueConfig holds per-pipeline queue sizing.
type QueueConfig struct {
	// Capacity bounds jobs in flight (queued + running) per pipeline.
	// A publish beyond this rejects immediately.
	Capacity int `yaml:"capacity"`

	// Workers is the dequeue concurrency per pipeline.
	Workers int `yaml:"workers"`
}

// CollaboratorConfig holds the external test service endpoints.
// Both endpoints are hot-reloadable.
type CollaboratorConfig struct {
	VerificationEndpoint string `yaml:"verification_endpoint"`
	CompilationEndpoint  string `yaml:"compilation_endpoint"`
	RunTimeoutMinutes    int    `yaml:"run_timeout_minutes"`
}

// CheckoutConfig holds the checkout volume settings.
type CheckoutConfig struct {
	Root string `yaml:"root"`
}

// StorageConfig holds Badger persistence settings.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
}

// PaperConfig holds published-paper URL settings.
type PaperConfig struct {
	PDFBaseURL string `yaml:"pdf_base_url"`
}

// LimitConfig holds admission limits. The submit rate limit is
// hot-reloadable.
type LimitConfig struct {
	SubmitRPS   float64 `yaml:"submit_rps"`
	SubmitBurst int     `yaml:"submit_burst"`
	MaxNodes    int     `yaml:"max_nodes"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
}

// =============================================================================
// Loading
// =============================================================================

// DefaultConfig returns the embedded default configuration.
func DefaultConfig() Config {
	var cfg Config
	// The defaults ship inside the binary; failing to parse them is a build
	// defect, not a runtime condition.
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults.yaml is invalid: %v", err))
	}
	return cfg
}

// Load reads the config file at path over the embedded defaults.
//
// # Inputs
//
//   - path: YAML file path. Empty returns the defaults unchanged.
//
// # Outputs
//
//   - Config: Defaults with the file's fields overlaid.
//   - error: Non-nil on read, size, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("config file %s is %d bytes, above the %d byte limit",
			path, info.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	// Unmarshal over the prefilled struct: absent fields keep their default.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("server.shutdown_timeout_seconds must not be negative, got %d",
			c.Server.ShutdownTimeoutSeconds)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Collaborators.RunTimeoutMinutes < 1 {
		return fmt.Errorf("collaborators.run_timeout_minutes must be at least 1, got %d",
			c.Collaborators.RunTimeoutMinutes)
	}
	if c.Limits.SubmitRPS <= 0 {
		return fmt.Errorf("limits.submit_rps must be positive, got %g", c.Limits.SubmitRPS)
	}
	if c.Limits.SubmitBurst < 1 {
		return fmt.Errorf("limits.submit_burst must be at least 1, got %d", c.Limits.SubmitBurst)
	}
	if c.Limits.MaxNodes < 1 {
		return fmt.Errorf("limits.max_nodes must be at least 1, got %d", c.Limits.MaxNodes)
	}
	switch c.Tracing.Exporter {
	case "otlp", "stdout", "none":
	default:
		return fmt.Errorf("tracing.exporter must be otlp, stdout, or none, got %q", c.Tracing.Exporter)
	}
	return nil
}
