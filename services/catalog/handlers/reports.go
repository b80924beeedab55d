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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// ReportStatus ingests at-least-once job reports from external test workers.
//
// Delivery is keyed by the job's generation: a report for a superseded
// generation, or a terminal report for an already-terminal pipeline, is
// discarded and answered 200 {"applied": false} so the worker stops
// retrying. Only an unknown project is an error.
func ReportStatus(store *graph.Store, tracker *status.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StatusReport
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.Sanitize()
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ref := req.Ref()
		if !store.Contains(ref) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}

		key, err := req.Key()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var applied bool
		if req.Outcome == "running" {
			applied = tracker.MarkRunning(key)
		} else {
			outcome, err := status.ParseState(req.Outcome)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			applied, err = tracker.Complete(key, outcome, req.Detail)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		if !applied {
			slog.Debug("Status report discarded",
				"proof", ref.String(), "pipeline", req.Pipeline,
				"generation", req.Generation, "outcome", req.Outcome)
		}
		c.JSON(http.StatusOK, datatypes.StatusReportResult{Applied: applied})
	}
}
