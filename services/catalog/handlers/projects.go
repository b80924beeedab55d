// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin handlers for the catalog REST surface.
//
// Handlers bind and sanitize input, map domain errors onto HTTP statuses, and
// delegate everything else to the graph store, status tracker, queues, and
// query engine. Validation failures are synchronous: a submission that fails
// any check enqueues nothing.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/manifest"
	"github.com/maxwell3025/theorem-library/services/catalog/queue"
	"github.com/maxwell3025/theorem-library/services/catalog/resolver"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// =============================================================================
// Tracing / Metrics
// =============================================================================

var handlerTracer = otel.Tracer("catalog.handlers")

var submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "theoremlib",
	Subsystem: "catalog",
	Name:      "submissions_total",
	Help:      "Project submissions by result.",
}, []string{"result"})

// =============================================================================
// Shared Types
// =============================================================================

// Queues maps each pipeline to its bounded job queue.
type Queues map[status.Pipeline]*queue.Queue

// =============================================================================
// POST /v1/projects
// =============================================================================

// SubmitProject registers a proof project and queues its verification and
// compilation runs.
//
// Flow: resolve the checkout, validate the declared dependencies, upsert the
// node and its edges, then enqueue one job per pipeline. Re-submission of an
// existing identity leaves the graph unchanged and re-queues idle pipelines.
func SubmitProject(res *resolver.Resolver, val *manifest.Validator, store *graph.Store,
	tracker *status.Tracker, queues Queues) gin.HandlerFunc {

	return func(c *gin.Context) {
		var req datatypes.ProjectRef
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

		ctx, span := handlerTracer.Start(c.Request.Context(), "catalog.submit")
		defer span.End()
		span.SetAttributes(
			attribute.String("proof.repo_url", ref.RepoURL),
			attribute.String("proof.commit", ref.Commit),
		)

		checkout, err := res.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, resolver.ErrCheckoutMissing) {
				submissions.WithLabelValues("checkout_missing").Inc()
				c.JSON(http.StatusNotFound, gin.H{
					"error": "checkout not found: fetch the repository before submitting",
				})
				return
			}
			slog.Error("Checkout resolution failed", "proof", ref.String(), "error", err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout resolution failed"})
			return
		}

		deps, err := val.Validate(ctx, checkout)
		if err != nil {
			submissions.WithLabelValues("validation_failed").Inc()
			c.JSON(validationStatus(err), gin.H{"error": err.Error()})
			return
		}

		created, err := store.UpsertWithEdges(ref, deps)
		if err != nil {
			// A dependency deleted between validation and upsert lands here;
			// the write was rejected whole.
			var missing graph.MissingDependencyError
			if errors.As(err, &missing) {
				submissions.WithLabelValues("validation_failed").Inc()
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": missing.Error()})
				return
			}
			if errors.Is(err, graph.ErrLimitExceeded) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog is full"})
				return
			}
			slog.Error("Graph upsert failed", "proof", ref.String(), "error", err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record project"})
			return
		}

		taskID := uuid.New().String()
		rejected := enqueuePipelines(ref, status.AllPipelines(), taskID, tracker, queues)
		if rejected != nil {
			// The node and edges stay recorded; only the named pipelines were
			// turned away and keep their previous status.
			submissions.WithLabelValues("queue_full").Inc()
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":              "queue full",
				"rejected_pipelines": rejected,
			})
			return
		}

		submissions.WithLabelValues("accepted").Inc()
		slog.Info("Project submitted",
			"proof", ref.String(), "task_id", taskID,
			"created", created, "dependency_count", len(deps))
		c.JSON(http.StatusAccepted, datatypes.NewTaskAccepted(taskID))
	}
}

// validationStatus maps a declaration validation failure onto its HTTP
// status: a manifest that cannot be parsed is the client's malformed request,
// everything downstream of parsing is a semantic rejection.
func validationStatus(err error) int {
	switch {
	case errors.Is(err, manifest.ErrMalformedManifest):
		return http.StatusBadRequest
	case errors.Is(err, manifest.ErrMissingPackageMetadata),
		errors.Is(err, manifest.ErrDependencyMismatch),
		errors.Is(err, graph.ErrNonexistentDependency):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// enqueuePipelines queues one job per pipeline under a shared task ID and
// returns the names of pipelines whose queue was full, nil when none were.
// A pipeline already in flight is left alone: the pending run covers the new
// request.
func enqueuePipelines(ref graph.ProofRef, pipelines []status.Pipeline, taskID string,
	tracker *status.Tracker, queues Queues) []string {

	now := time.Now()
	var rejected []string
	for _, p := range pipelines {
		q, ok := queues[p]
		if !ok {
			continue
		}
		_, err := tracker.Enqueue(ref, p, taskID, func(key status.JobKey) error {
			return q.TryPublish(queue.Job{Key: key, TaskID: taskID, EnqueuedAt: now})
		})
		switch {
		case err == nil:
		case errors.Is(err, status.ErrInFlight):
		case errors.Is(err, queue.ErrQueueFull):
			rejected = append(rejected, p.String())
		default:
			slog.Error("Enqueue failed", "proof", ref.String(), "pipeline", p.String(), "error", err)
			rejected = append(rejected, p.String())
		}
	}
	return rejected
}

// =============================================================================
// POST /v1/projects/retest
// =============================================================================

// RetestProject re-queues testing for a cataloged project.
//
// Only pipelines with a terminal result may be re-tested; a queued or running
// pipeline conflicts. Re-testing bumps the generation so completions of the
// superseded run are discarded when they arrive.
func RetestProject(store *graph.Store, tracker *status.Tracker, queues Queues) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RetestProjectRequest
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

		pipelines, err := req.Pipelines()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Check the whole set before touching any pipeline so a conflict on
		// the second pipeline does not leave the first re-queued.
		for _, p := range pipelines {
			if st := tracker.Get(ref, p); !st.Terminal() {
				c.JSON(http.StatusConflict, gin.H{
					"error":    "pipeline has no terminal result to re-test",
					"pipeline": p.String(),
					"state":    st.String(),
				})
				return
			}
		}

		taskID := uuid.New().String()
		now := time.Now()
		for _, p := range pipelines {
			q, ok := queues[p]
			if !ok {
				continue
			}
			_, err := tracker.Retest(ref, p, taskID, func(key status.JobKey) error {
				return q.TryPublish(queue.Job{Key: key, TaskID: taskID, EnqueuedAt: now})
			})
			switch {
			case err == nil:
			case errors.Is(err, status.ErrInFlight), errors.Is(err, status.ErrNotRetestable):
				// Lost a race with a concurrent submit or re-test.
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "pipeline": p.String()})
				return
			case errors.Is(err, queue.ErrQueueFull):
				c.Header("Retry-After", "1")
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error":              "queue full",
					"rejected_pipelines": []string{p.String()},
				})
				return
			default:
				slog.Error("Re-test enqueue failed", "proof", ref.String(), "pipeline", p.String(), "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue re-test"})
				return
			}
		}

		slog.Info("Project re-test queued", "proof", ref.String(), "task_id", taskID, "pipelines", len(pipelines))
		c.JSON(http.StatusAccepted, datatypes.NewTaskAccepted(taskID))
	}
}

// =============================================================================
// DELETE /v1/projects
// =============================================================================

// DeleteProject removes a project and every edge it participates in, in
// either direction. Status entries for the identity are forgotten so a future
// re-submission starts from untested.
func DeleteProject(store *graph.Store, tracker *status.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ProjectRef
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

		// Proofs that depended on this one keep working, but their next
		// submission will fail dependency validation. Worth a warning.
		dependents, _ := store.Dependents(ref)

		if err := store.DeleteNode(ref); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			slog.Error("Project deletion failed", "proof", ref.String(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete project"})
			return
		}
		tracker.Forget(ref)

		if len(dependents) > 0 {
			slog.Warn("Deleted project had dependents",
				"proof", ref.String(), "dependents", len(dependents))
		}
		slog.Info("Project deleted", "proof", ref.String())
		c.JSON(http.StatusOK, datatypes.ProjectDeleted{Deleted: true})
	}
}
