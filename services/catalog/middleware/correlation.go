// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the catalog service.
//
// This package contains middleware for request correlation, submission rate
// limiting, and the internal completion-report endpoint guard.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationIDHeader is the header carrying the request correlation ID.
const CorrelationIDHeader = "X-Correlation-ID"

// correlationIDKey is the context key for the correlation ID.
// Using a typed key prevents collisions with other context values.
const correlationIDKey = "theoremlib_correlation_id"

// CorrelationID creates a middleware that ensures every request carries a
// correlation ID.
//
// # Description
//
// Accepts a caller-supplied X-Correlation-ID, or generates a UUID when the
// header is absent. The ID is echoed on the response and stored in the Gin
// context so handlers can attach it to log lines, which lets one submission
// be followed across the catalog, the queue workers, and the external test
// services.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	router.Use(middleware.CorrelationID())
//
// # Limitations
//
//   - Caller-supplied IDs are trusted as-is; they are opaque strings here
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(correlationIDKey, id)
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID retrieves the correlation ID from the Gin context.
// Returns empty string if the CorrelationID middleware did not run.
func GetCorrelationID(c *gin.Context) string {
	if id, exists := c.Get(correlationIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
