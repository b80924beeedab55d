// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "theoremlib",
	Name:      "http_rate_limited_total",
	Help:      "Requests rejected by the submission rate limiter.",
})

// NewSubmitLimiter builds the shared token-bucket limiter for submission
// endpoints. A non-positive rps disables limiting (the middleware passes
// everything through).
func NewSubmitLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimit creates a middleware that applies a token-bucket limit to the
// routes it is mounted on.
//
// # Description
//
// Submissions fan out into checkout reads, manifest validation, and queue
// publishes, so the submit and re-test endpoints carry a global limiter.
// Rejected requests get 429 with Retry-After: 1; the limiter is shared
// across all clients, not per-IP.
//
// The limiter is hot-tunable: the config watcher adjusts it through
// rate.Limiter's SetLimit/SetBurst without recreating the middleware.
//
// # Inputs
//
//   - limiter: Shared limiter. nil disables limiting.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	limiter := middleware.NewSubmitLimiter(5, 10)
//	v1.POST("/projects", middleware.RateLimit(limiter), handler.SubmitProject)
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			rateLimitRejections.Inc()
			slog.Debug("Request rate limited",
				"path", c.FullPath(),
				"correlation_id", GetCorrelationID(c),
			)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
