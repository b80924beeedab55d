// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrNilContext indicates Init was called without a context.
var ErrNilContext = errors.New("nil context")

// ErrUnknownExporter indicates an unrecognized exporter name.
var ErrUnknownExporter = errors.New("unknown exporter")

// TracingConfig controls the tracing bootstrap.
//
// All fields have sensible defaults via DefaultTracingConfig(). Metrics are
// not configured here: catalog metrics go straight to the default Prometheus
// registry and are served by the /metrics route.
type TracingConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string `json:"service_name"`

	// ServiceVersion is the version string for this service.
	ServiceVersion string `json:"service_version"`

	// Environment identifies the deployment environment (development, production).
	Environment string `json:"environment"`

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string `json:"exporter"`

	// OTLPEndpoint is the OTLP receiver endpoint for traces.
	OTLPEndpoint string `json:"otlp_endpoint"`

	// OTLPInsecure disables TLS verification for OTLP connections.
	OTLPInsecure bool `json:"otlp_insecure"`
}

// DefaultTracingConfig returns opinionated defaults for development.
//
// Environment variables override defaults where applicable:
//   - THEOREMLIB_ENV: environment name
//   - OTEL_TRACES_EXPORTER: trace exporter type
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "catalog-service",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("THEOREMLIB_ENV", "development"),
		Exporter:       getEnvOr("OTEL_TRACES_EXPORTER", "otlp"),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// InitTracing initializes the OpenTelemetry tracing stack.
//
// Description:
//
//	Sets up the global TracerProvider based on the configuration. After
//	InitTracing returns successfully, otel.Tracer() can be used throughout
//	the application; with Exporter "none" the call is a no-op and spans go
//	nowhere.
//
// Inputs:
//
//	ctx - Context for initialization (used for exporter connections).
//	cfg - Tracing configuration. Use DefaultTracingConfig() for defaults.
//
// Outputs:
//
//	shutdown - Function to call on application exit for cleanup. Must be called.
//	error - Non-nil if initialization fails.
//
// Example:
//
//	shutdown, err := observability.InitTracing(ctx, observability.DefaultTracingConfig())
//	if err != nil {
//	    return fmt.Errorf("init tracing: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func InitTracing(ctx context.Context, cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if cfg.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	var exporter trace.SpanExporter
	var conn *grpc.ClientConn
	switch cfg.Exporter {
	case "otlp", "jaeger":
		// Jaeger accepts OTLP natively (since Jaeger 1.35). The exporter
		// rides a caller-owned gRPC connection; shutdown closes it after
		// the provider drains.
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		if cfg.OTLPInsecure {
			creds = insecure.NewCredentials()
		}
		conn, err = grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if conn != nil {
			if closeErr := conn.Close(); err == nil {
				err = closeErr
			}
		}
		return err
	}, nil
}

// getEnvOr returns the environment variable value or the fallback.
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
