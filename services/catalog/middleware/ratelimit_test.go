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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func limitedRouter(limiter *rate.Limiter) *gin.Engine {
	router := gin.New()
	router.POST("/submit", RateLimit(limiter), func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})
	return router
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	// 1 request per hour with burst 1: the second request must be rejected.
	router := limitedRouter(rate.NewLimiter(rate.Limit(1.0/3600), 1))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/submit", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/submit", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimit_BurstAdmitsMultiple(t *testing.T) {
	router := limitedRouter(rate.NewLimiter(rate.Limit(1.0/3600), 3))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/submit", nil))
		assert.Equal(t, http.StatusAccepted, w.Code, "request %d within burst", i)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/submit", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	router := limitedRouter(nil)

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/submit", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
}

func TestNewSubmitLimiter_DisabledForNonPositiveRate(t *testing.T) {
	assert.Nil(t, NewSubmitLimiter(0, 5))
	assert.Nil(t, NewSubmitLimiter(-1, 5))
}

func TestNewSubmitLimiter_ClampsBurst(t *testing.T) {
	limiter := NewSubmitLimiter(5, 0)

	assert.NotNil(t, limiter)
	assert.Equal(t, 1, limiter.Burst())
}
