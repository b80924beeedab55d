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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/manifest"
	"github.com/maxwell3025/theorem-library/services/catalog/query"
	"github.com/maxwell3025/theorem-library/services/catalog/queue"
	"github.com/maxwell3025/theorem-library/services/catalog/resolver"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const testPDFBase = "http://localhost:8090/papers"

func ref(name string) graph.ProofRef {
	return graph.ProofRef{
		RepoURL: fmt.Sprintf("http://git-server:3000/git/%s.git", name),
		Commit:  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
}

// env wires the full handler surface over real domain components and a
// temp-dir checkout root. No worker pool runs: published jobs stay in the
// queue buffers, which is exactly what the submission-path assertions need.
type env struct {
	root    string
	store   *graph.Store
	tracker *status.Tracker
	queues  Queues
	engine  *query.Engine
	router  *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	root := t.TempDir()
	store := graph.NewStore()
	tracker := status.NewTracker()
	queues := Queues{
		status.PipelineVerification: queue.NewQueue(status.PipelineVerification, queue.DefaultCapacity),
		status.PipelineCompilation:  queue.NewQueue(status.PipelineCompilation, queue.DefaultCapacity),
	}
	t.Cleanup(func() {
		for _, q := range queues {
			q.Close()
		}
	})

	engine := query.NewEngine(store, tracker)
	res := resolver.NewResolver(root)
	val := manifest.NewValidator(store)

	router := gin.New()
	router.POST("/v1/projects", SubmitProject(res, val, store, tracker, queues))
	router.GET("/v1/projects", GetProject(engine, tracker, testPDFBase))
	router.GET("/v1/projects/dependencies", GetProjectDependencies(engine))
	router.GET("/v1/projects/all", ListProjects(store, engine, tracker, testPDFBase))
	router.DELETE("/v1/projects", DeleteProject(store, tracker))
	router.POST("/v1/projects/retest", RetestProject(store, tracker, queues))
	router.POST("/v1/dependencies", AddDependency(store))
	router.POST("/internal/v1/status", ReportStatus(store, tracker))

	return &env{
		root:    root,
		store:   store,
		tracker: tracker,
		queues:  queues,
		engine:  engine,
		router:  router,
	}
}

// =============================================================================
// Request Helpers
// =============================================================================

func (e *env) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) doGet(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// queryPath builds "<base>?repo_url=...&commit=..." with proper escaping.
func queryPath(base string, r graph.ProofRef) string {
	q := url.Values{}
	q.Set("repo_url", r.RepoURL)
	q.Set("commit", r.Commit)
	return base + "?" + q.Encode()
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out),
		"response body: %s", w.Body.String())
}

// =============================================================================
// Checkout Fixtures
// =============================================================================

// writeCheckout materializes a consistent checkout for r: the manifest and
// the lakefile declare exactly the given dependencies.
func writeCheckout(t *testing.T, e *env, r graph.ProofRef, deps ...graph.ProofRef) {
	t.Helper()

	entries := make([]manifest.Entry, len(deps))
	for i, d := range deps {
		entries[i] = manifest.Entry{
			PackageName: fmt.Sprintf("dep%d", i),
			Git:         d.RepoURL,
			Commit:      d.Commit,
		}
	}
	manifestData, err := json.Marshal(entries)
	require.NoError(t, err)

	var lake strings.Builder
	lake.WriteString("name = \"proof-package\"\n")
	for i, d := range deps {
		fmt.Fprintf(&lake, "\n[[require]]\nname = %q\ngit = %q\nrev = %q\n",
			fmt.Sprintf("dep%d", i), d.RepoURL, d.Commit)
	}

	writeCheckoutFiles(t, e, r, manifestData, []byte(lake.String()))
}

// writeCheckoutFiles writes raw declaration files into r's checkout
// directory. A nil slice omits that file.
func writeCheckoutFiles(t *testing.T, e *env, r graph.ProofRef, manifestData, lakefileData []byte) {
	t.Helper()

	dir := filepath.Join(e.root, r.EncodedRepo(), r.Commit)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if manifestData != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.ManifestFileName), manifestData, 0644))
	}
	if lakefileData != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.LakefileName), lakefileData, 0644))
	}
}

// =============================================================================
// State Fixtures
// =============================================================================

// drive moves one pipeline to the given state through the real transition
// sequence, without holding a queue slot.
func drive(t *testing.T, e *env, r graph.ProofRef, p status.Pipeline, target status.State) {
	t.Helper()

	key, err := e.tracker.Enqueue(r, p, "fixture-task", func(status.JobKey) error { return nil })
	require.NoError(t, err)
	if target == status.StateQueued {
		return
	}
	if target == status.StateRunning {
		require.True(t, e.tracker.MarkRunning(key))
		return
	}
	applied, err := e.tracker.Complete(key, target, "")
	require.NoError(t, err)
	require.True(t, applied)
}

// fillQueue consumes every capacity slot of one pipeline with filler jobs.
func fillQueue(t *testing.T, e *env, p status.Pipeline) {
	t.Helper()

	q := e.queues[p]
	for i := q.InFlight(); i < q.Capacity(); i++ {
		filler := ref(fmt.Sprintf("filler-%d", i))
		err := q.TryPublish(queue.Job{
			Key:        status.JobKey{Ref: filler, Pipeline: p, Generation: 1},
			TaskID:     "filler-task",
			EnqueuedAt: time.Now(),
		})
		require.NoError(t, err)
	}
}
