// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the catalog service.
//
// # Description
//
// This package implements Prometheus metrics for the HTTP surface and the
// OpenTelemetry tracing bootstrap. Domain metrics (queue depth, traversals,
// dropped events) live in their own packages; this one covers what every
// request shares:
//   - Request counters (by route, status class)
//   - Request latency histograms
//   - In-flight request and websocket client gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. All catalog packages
// register into the default Prometheus registry under the "theoremlib"
// namespace.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "theoremlib"

// Subsystem for HTTP surface metrics
const httpSubsystem = "http"

// HTTPMetrics holds the Prometheus metrics for the REST surface.
//
// Initialize once at startup via InitMetrics().
type HTTPMetrics struct {
	// RequestsTotal counts requests by route template and status code.
	// Labels: route (gin template, e.g. /v1/projects), method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency by route.
	// Labels: route, method
	RequestDurationSeconds *prometheus.HistogramVec

	// InFlight tracks requests currently being served.
	InFlight prometheus.Gauge

	// WebsocketClients tracks connected event-stream clients.
	WebsocketClients prometheus.Gauge
}

// DefaultMetrics is the singleton instance of HTTPMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *HTTPMetrics

// InitMetrics initializes the default metrics instance.
//
// Creates and registers all HTTP-surface metrics with the default registry.
// Call once at application startup; a second call panics on duplicate
// registration.
func InitMetrics() *HTTPMetrics {
	DefaultMetrics = &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method, and status code",
			},
			[]string{"route", "method", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "in_flight_requests",
			Help:      "Requests currently being served",
		}),

		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "websocket_clients",
			Help:      "Connected event-stream websocket clients",
		}),
	}
	return DefaultMetrics
}

// Middleware creates a Gin middleware recording request metrics.
//
// Uses the route template (c.FullPath) rather than the raw URL so that
// query-string identities do not explode label cardinality. Unmatched
// routes are recorded under "unmatched".
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.InFlight.Inc()

		c.Next()

		m.InFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
