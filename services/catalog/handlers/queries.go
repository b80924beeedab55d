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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/query"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// bindProjectQuery reads repo_url and commit from the query string. Returns
// false after writing the 400 response itself.
func bindProjectQuery(c *gin.Context) (datatypes.ProjectRef, bool) {
	var req datatypes.ProjectRef
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return req, false
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

// projectStatus assembles the status object for one cataloged project.
func projectStatus(ctx context.Context, engine *query.Engine, tracker *status.Tracker,
	pdfBaseURL string, ref graph.ProofRef) (datatypes.ProjectStatus, error) {

	validity, err := engine.DependencyValidity(ctx, ref)
	if err != nil {
		return datatypes.ProjectStatus{}, err
	}

	states := tracker.States(ref)
	ps := datatypes.ProjectStatus{
		RepoURL:              ref.RepoURL,
		Commit:               ref.Commit,
		HasValidDependencies: validity.String(),
		HasValidProof:        datatypes.TestValidity(states[status.PipelineVerification]),
		HasValidPaper:        datatypes.TestValidity(states[status.PipelineCompilation]),
	}
	if states[status.PipelineCompilation] == status.StateSuccess {
		ps.PaperURL = datatypes.PaperURL(pdfBaseURL, ref)
	}
	return ps, nil
}

// GetProject returns the status object for one project.
func GetProject(engine *query.Engine, tracker *status.Tracker, pdfBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindProjectQuery(c)
		if !ok {
			return
		}

		ps, err := projectStatus(c.Request.Context(), engine, tracker, pdfBaseURL, req.Ref())
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			slog.Error("Project status query failed", "proof", req.Ref().String(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query project"})
			return
		}
		c.JSON(http.StatusOK, ps)
	}
}

// GetProjectDependencies returns the full transitive dependency set of one
// project, the project itself excluded. Cycles are legal inputs; the set is
// always finite.
func GetProjectDependencies(engine *query.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindProjectQuery(c)
		if !ok {
			return
		}
		ref := req.Ref()

		deps, err := engine.TransitiveDependencies(c.Request.Context(), ref)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
				return
			}
			slog.Error("Dependency query failed", "proof", ref.String(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query dependencies"})
			return
		}

		out := make([]datatypes.ProjectRef, len(deps))
		for i, dep := range deps {
			out[i] = datatypes.RefOf(dep)
		}
		c.JSON(http.StatusOK, datatypes.ProjectDependencies{
			RepoURL:      ref.RepoURL,
			Commit:       ref.Commit,
			Dependencies: out,
		})
	}
}

// ListProjects returns status objects for every cataloged project in
// insertion order.
func ListProjects(store *graph.Store, engine *query.Engine, tracker *status.Tracker,
	pdfBaseURL string) gin.HandlerFunc {

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		nodes := store.ListNodes()
		projects := make([]datatypes.ProjectStatus, 0, len(nodes))
		for _, node := range nodes {
			ps, err := projectStatus(ctx, engine, tracker, pdfBaseURL, node.Ref)
			if err != nil {
				// Deleted between the listing and this status read; skip it.
				if errors.Is(err, graph.ErrNotFound) {
					continue
				}
				slog.Error("Project status query failed", "proof", node.Ref.String(), "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projects"})
				return
			}
			projects = append(projects, ps)
		}

		c.JSON(http.StatusOK, datatypes.ProjectList{Projects: projects})
	}
}
