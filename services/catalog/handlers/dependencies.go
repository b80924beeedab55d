// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

// AddDependency records a dependency edge between two cataloged projects.
//
// Both endpoints must already exist. A missing source is a 404; a missing
// target is the same referential-integrity failure a manifest gets (422).
// Cycles are allowed, so an edge that closes one is recorded like any other.
// Re-adding an existing edge is a no-op that still returns 201.
func AddDependency(store *graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddDependencyRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.Sanitize()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		created, err := store.AddEdge(req.Source(), req.Dependency())
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "source project not found"})
				return
			}
			var missing graph.MissingDependencyError
			if errors.As(err, &missing) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": missing.Error()})
				return
			}
			slog.Error("Edge insert failed",
				"source", req.Source().String(), "dependency", req.Dependency().String(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record dependency"})
			return
		}

		slog.Info("Dependency recorded",
			"source", req.Source().String(), "dependency", req.Dependency().String(), "created", created)
		c.JSON(http.StatusCreated, datatypes.DependencyCreated{
			Source:     datatypes.RefOf(req.Source()),
			Dependency: datatypes.RefOf(req.Dependency()),
		})
	}
}
