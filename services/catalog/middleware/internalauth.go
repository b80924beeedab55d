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
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Internal Endpoint Guard
// =============================================================================

// TokenGuard protects the internal completion-report endpoint with a shared
// bearer token.
//
// # Description
//
// External test workers authenticate with a single pre-shared token. The
// token spends its life inside a memguard enclave: encrypted at rest in
// process memory, decrypted into an mlocked buffer only for the duration of
// one comparison. Comparison is constant-time.
//
// An empty token disables the guard, for single-host development setups
// where the internal port is not reachable from outside.
//
// # Thread Safety
//
// TokenGuard is safe for concurrent use; enclave opens are independent.
type TokenGuard struct {
	enclave *memguard.Enclave
	logger  *slog.Logger
}

// NewTokenGuard seals the internal bearer token. The token string passed in
// should be discarded by the caller; the enclave holds the only durable copy.
func NewTokenGuard(token string, logger *slog.Logger) *TokenGuard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if token == "" {
		logger.Warn("Internal endpoint guard disabled: no token configured")
		return &TokenGuard{logger: logger}
	}
	return &TokenGuard{
		enclave: memguard.NewEnclave([]byte(token)),
		logger:  logger,
	}
}

// Enabled reports whether a token is configured.
func (g *TokenGuard) Enabled() bool {
	return g.enclave != nil
}

// Middleware creates the Gin middleware enforcing the guard.
//
// Requests must carry "Authorization: Bearer <token>". Failures are uniform
// 401s; the response never distinguishes a missing header from a wrong
// token.
func (g *TokenGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.enclave == nil {
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		buf, err := g.enclave.Open()
		if err != nil {
			// Fail closed: a worker retries, a broken enclave does not
			// open the endpoint.
			g.logger.Error("Failed to open token enclave", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		match := subtle.ConstantTimeCompare(buf.Bytes(), []byte(presented)) == 1
		buf.Destroy()

		if !match {
			g.logger.Warn("Rejected internal request with bad token",
				"correlation_id", GetCorrelationID(c),
				"remote_addr", c.ClientIP(),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// Expected format: "Bearer <token>". Returns empty string if the header is
// missing or malformed. The "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
