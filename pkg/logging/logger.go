// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for theorem library services.
//
// The package wraps log/slog with the small amount of plumbing the
// catalog server and its tooling share:
//
//   - stderr output by default (follows Unix conventions for CLI use)
//   - optional file logging with automatic directory creation
//   - a LogExporter hook for forwarding entries to aggregation systems
//
// # Basic Usage
//
// For stderr-only logging:
//
//	logger := logging.Default()
//	logger.Info("submission accepted", "repo_url", ref.RepoURL, "commit", ref.Commit)
//	logger.Error("collaborator request failed", "pipeline", "verification", "error", err)
//
// # File Logging
//
// To write a log file alongside stderr:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.theoremlib/logs",  // Supports ~ expansion
//	    Service: "catalog",
//	})
//	defer logger.Close()  // Important: syncs and closes the file
//
// Log files are named `{service}_{date}.log` and always hold one JSON
// entry per line regardless of the stderr format, so they stay
// machine-parseable when stderr is set to text.
//
// # Export
//
// A LogExporter receives every entry at or above the configured level,
// asynchronously, in addition to the stderr and file outputs.
// Implementations forward entries to whatever collector a deployment
// runs (Loki, an OTLP collector, a shared drive). The in-process
// exporters at the bottom of this file cover tests and local capture;
// production forwarders live with the deployment, not here.
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - Debug: tracing a submission through the queue and collaborators
//   - Info: normal operations (submission accepted, pipeline finished)
//   - Warn: recoverable oddities (config revision rejected, queue full)
//   - Error: operation failures the service survives
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe and mutable state is protected by a mutex.
//
// # Security Considerations
//
// Nothing here redacts. The internal status token in particular must
// never be logged; log its presence, not its value:
//
//	// BAD: leaks the collaborator bearer token
//	logger.Info("auth configured", "token", token)
//
//	// GOOD: metadata only
//	logger.Info("auth configured", "token_present", token != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error. Setting a minimum level filters out
// everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	// Example: "dialing collaborator", "replaying event backlog"
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	// Example: "submission accepted", "pipeline finished", "config reloaded"
	LevelInfo

	// LevelWarn is for situations the service recovers from.
	// Example: "queue full, submission rejected", "config revision rejected"
	LevelWarn

	// LevelError is for failed operations. The service continues.
	// Example: "status report rejected", "checkout unreadable"
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges Level to the standard library's slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name to a Level.
//
// Accepted names are "debug", "info", "warn" (or "warning"), and
// "error", case-insensitively and ignoring surrounding whitespace.
// The catalog server resolves THEOREMLIB_LOG_LEVEL through this.
//
// Returns LevelInfo along with a non-nil error for unknown names, so
// callers that ignore the error still get a usable default.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior.
//
// All fields have usable defaults. A zero-value Config creates a
// logger that writes Debug+ messages to stderr in text format.
//
// The catalog server:
//
//	Config{
//	    Level:   logging.LevelInfo,
//	    Service: "catalog",
//	    JSON:    true,
//	}
//
// Local development with a file trail:
//
//	Config{
//	    Level:   logging.LevelDebug,
//	    LogDir:  "~/.theoremlib/logs",
//	    Service: "catalog",
//	}
type Config struct {
	// Level sets the minimum log level.
	//
	// Messages below this level are discarded.
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// When set, logs are written to both stderr and a file named
	// "{Service}_{YYYY-MM-DD}.log". The directory is created with
	// 0750 permissions if it doesn't exist, and ~ expands to the
	// user's home directory:
	//
	//	"~/.theoremlib/logs" -> "/home/user/.theoremlib/logs"
	//
	// Default: "" (file logging disabled)
	LogDir string

	// Service identifies the component generating logs.
	//
	// The value is attached to every entry as the "service"
	// attribute so aggregated logs can be filtered by component.
	//
	// Recommended values: "catalog", "theoremctl"
	// Default: "" (no service attribute)
	Service string

	// JSON switches stderr output to JSON objects.
	//
	// When false, stderr gets human-readable text. File logs are
	// always JSON regardless of this setting.
	//
	// Default: false (text on stderr)
	JSON bool

	// Quiet disables stderr output.
	//
	// Logs then go only to the file (if LogDir is set) and the
	// Exporter (if configured). Useful when a supervisor already
	// captures the process output elsewhere.
	//
	// Default: false (stderr enabled)
	Quiet bool

	// Exporter optionally forwards entries to an external system.
	//
	// Entries at or above Level are handed to the exporter
	// asynchronously. Exporters should buffer internally; export
	// failures are dropped rather than disrupting the caller.
	//
	// Default: nil (no forwarding)
	Exporter LogExporter
}

// =============================================================================
// Export Interface
// =============================================================================

// LogExporter forwards log entries to an external system.
//
// Implementations ship entries to log aggregation backends (Loki,
// an OTLP collector, cloud storage) or capture them for tests.
//
// # Implementation Requirements
//
//  1. Export must not block. Buffer entries internally and flush
//     in batches.
//
//  2. Handle backpressure by dropping the oldest entries rather
//     than blocking the logging path.
//
//  3. Flush sends all buffered entries before returning. It is
//     called during graceful shutdown.
//
//  4. Close releases connections and files. It is called after
//     Flush during shutdown.
type LogExporter interface {
	// Export sends one entry to the external system.
	//
	// Called asynchronously per entry with a short (1-second)
	// context. The returned error is dropped by the logger.
	Export(ctx context.Context, entry LogEntry) error

	// Flush sends all buffered entries.
	//
	// Called during shutdown with a 5-second context. It should
	// block until pending entries are delivered.
	Flush(ctx context.Context) error

	// Close releases resources held by the exporter.
	Close() error
}

// LogEntry is the structured form handed to LogExporter
// implementations. It carries everything needed to reconstruct the
// entry in the destination system.
type LogEntry struct {
	// Timestamp when the entry was generated (local time)
	Timestamp time.Time

	// Level of the entry (Debug, Info, Warn, Error)
	Level Level

	// Message is the primary log message
	Message string

	// Service identifies the component (from Config.Service)
	Service string

	// Attrs holds the key-value attributes.
	// Keys are strings, values any JSON-serializable type.
	Attrs map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Logger wraps slog.Logger with fan-out to stderr, an optional log
// file, and an optional LogExporter, plus cleanup via Close.
//
// Always call Close when done with a logger that has file logging
// or an exporter configured:
//
//	logger := logging.New(config)
//	defer logger.Close()
//
// Use With to derive a logger carrying extra attributes:
//
//	subLogger := logger.With("repo_url", ref.RepoURL, "commit", ref.Commit)
//	subLogger.Info("verification queued")  // Includes repo_url, commit
type Logger struct {
	// slog is the underlying structured logger
	slog *slog.Logger

	// config stores the configuration for reference
	config Config

	// file is the optional log file handle (nil if file logging disabled)
	file *os.File

	// exporter is the optional log forwarder
	exporter LogExporter

	// mu protects mutable state (file, exporter)
	mu sync.Mutex
}

// New creates a Logger with the given configuration.
//
// Destinations are assembled from config: a stderr handler unless
// Quiet, a file handler if LogDir is set, and the exporter if one is
// configured. An unusable LogDir (permissions, bad path) degrades to
// stderr-only rather than failing.
//
// The returned Logger must be closed with Close to release resources.
func New(config Config) *Logger {
	var handlers []slog.Handler

	// Configure log level filter
	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	// Add stderr handler (unless quiet mode)
	if !config.Quiet {
		var stderrHandler slog.Handler
		if config.JSON {
			stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			stderrHandler = slog.NewTextHandler(os.Stderr, opts)
		}
		handlers = append(handlers, stderrHandler)
	}

	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
	}

	// Add file handler (if LogDir specified)
	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			// Filename: {service}_{date}.log
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "theoremlib"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, filename)

			// Open file with append mode, create if not exists
			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				// File logs are always JSON
				fileHandler := slog.NewJSONHandler(file, opts)
				handlers = append(handlers, fileHandler)
			}
		}
	}

	// Create combined handler
	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Fallback: at least write to stderr
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	// Add service attribute to all logs
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a logger with default settings: Info level, text
// format on stderr, service "theoremlib". Suitable for tooling that
// doesn't need file logging or forwarding.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "theoremlib",
	})
}

// Debug logs a message at Debug level.
//
// Debug messages trace execution and are typically filtered out in
// production (Level >= Info).
//
//	logger.Debug("dialing collaborator", "pipeline", "verification", "endpoint", ep)
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level.
//
// Info messages record normal operational events.
//
//	logger.Info("pipeline finished",
//	    "pipeline", "verification",
//	    "state", report.State,
//	    "duration_ms", elapsed.Milliseconds(),
//	)
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level.
//
// Warn messages flag situations the service recovers from.
//
//	logger.Warn("queue full",
//	    "pipeline", "compilation",
//	    "capacity", cap,
//	)
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level.
//
// Error messages record failed operations. The service continues;
// for fatal conditions, follow Error with os.Exit or panic.
//
//	logger.Error("status report rejected",
//	    "repo_url", ref.RepoURL,
//	    "commit", ref.Commit,
//	    "error", err.Error(),
//	)
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a new Logger carrying additional attributes.
//
// The returned logger includes all attributes from the parent plus
// the new ones. The parent is not modified, and file handle and
// exporter are shared.
//
//	subLogger := logger.With("repo_url", ref.RepoURL, "commit", ref.Commit)
//	subLogger.Info("verification queued")
//	subLogger.Info("verification finished")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,     // Share file handle
		exporter: l.exporter, // Share exporter
	}
}

// Slog returns the underlying slog.Logger.
//
// This is the bridge into code that takes a *slog.Logger, which is
// how the catalog's packages receive their loggers.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the logger.
//
// Close flushes and closes the exporter, then syncs and closes the
// log file. It returns the first error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	// Flush and close exporter
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	// Sync and close file
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log writes to all destinations.
func (l *Logger) log(level Level, msg string, args ...any) {
	// Write to slog (handles stderr and file)
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelInfo:
		l.slog.Info(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	}

	// Forward to the exporter (if configured)
	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Async export to avoid blocking the log call
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry) // Errors are dropped
		}()
	}
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers,
// enabling simultaneous stderr and file output with different
// formats.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands ~ to the user's home directory.
//
// Examples:
//   - "~/.theoremlib/logs" -> "/home/user/.theoremlib/logs"
//   - "/var/log" -> "/var/log" (unchanged)
//   - "relative/path" -> "relative/path" (unchanged)
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map for
// LogEntry.Attrs.
//
//	argsToMap("repo_url", "https://...", "generation", 3)
//	// map[string]any{"repo_url": "https://...", "generation": 3}
//
// Non-string keys and a trailing unpaired value are skipped.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards all entries. Useful when forwarding is
// configured but disabled.
type NopExporter struct{}

// Export discards the entry.
func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }

// Flush is a no-op.
func (e *NopExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *NopExporter) Close() error { return nil }

// Ensure NopExporter implements LogExporter
var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter collects entries in memory.
//
// Tests use it to verify what a component logged:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exporter, Quiet: true})
//
//	logger.Info("submission accepted", "repo_url", repoURL)
//
//	entries := exporter.Entries()
//	// entries[0].Message == "submission accepted"
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates a BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 100),
	}
}

// Export appends the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op (entries are already in memory).
func (e *BufferedExporter) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (e *BufferedExporter) Close() error {
	return nil
}

// Entries returns a copy of all collected entries. Modifying the
// returned slice does not affect the exporter's buffer.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

// WriterExporter writes entries to an io.Writer, one line each.
//
//	var buf bytes.Buffer
//	exporter := logging.NewWriterExporter(&buf)
//	logger := logging.New(logging.Config{Exporter: exporter, Quiet: true})
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a WriterExporter.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// Export writes the entry to the writer.
func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

// Flush is a no-op (writes are immediate).
func (e *WriterExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op (doesn't own the writer).
func (e *WriterExporter) Close() error { return nil }
