// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
)

// Constants for default connection settings
const (
	DefaultCatalogURL = "http://localhost:8080"

	// maxErrorBodyBytes caps how much of an error response is read.
	maxErrorBodyBytes = 64 * 1024
)

// resolveServerURL returns the catalog base URL.
//
// Priority: --server flag, THEOREMLIB_CATALOG_URL environment variable,
// then the localhost default.
func resolveServerURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("THEOREMLIB_CATALOG_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return DefaultCatalogURL
}

// APIError is a non-2xx response from the catalog.
//
// # Description
//
// The catalog reports failures as {"error": "..."} bodies with occasional
// extras: a queue-full rejection names the turned-away pipelines and sets
// Retry-After. The message and those extras are surfaced so commands can
// explain the rejection instead of printing a bare status code.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Message is the server's error string, or the raw body when the
	// response was not the usual JSON shape.
	Message string

	// RejectedPipelines names pipelines turned away by a full queue (503).
	RejectedPipelines []string

	// RetryAfter echoes the Retry-After header, empty when absent.
	RetryAfter string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("catalog returned status %d: %s", e.StatusCode, e.Message)
}

// CatalogClient talks to the catalog's REST surface.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying http.Client is shared.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCatalogClient creates a client for the catalog at baseURL.
func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the configured catalog base URL.
func (c *CatalogClient) BaseURL() string {
	return c.baseURL
}

// EventsURL returns the websocket address of the live event feed,
// the REST base with its scheme swapped to ws/wss.
func (c *CatalogClient) EventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server URL %q must be http(s)", c.baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

// SubmitProject submits one proof project for cataloging and testing.
//
// # Outputs
//
//   - *datatypes.TaskAccepted: The queued task on 202.
//   - error: *APIError on rejection (400 malformed, 404 no checkout, 422
//     declaration mismatch, 503 queue full), or a transport error.
func (c *CatalogClient) SubmitProject(ctx context.Context, repoURL, commit string) (*datatypes.TaskAccepted, error) {
	req := datatypes.ProjectRef{RepoURL: repoURL, Commit: commit}
	var out datatypes.TaskAccepted
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectStatus fetches the status object for one project.
func (c *CatalogClient) ProjectStatus(ctx context.Context, repoURL, commit string) (*datatypes.ProjectStatus, error) {
	path := "/v1/projects?" + refQuery(repoURL, commit)
	var out datatypes.ProjectStatus
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectDependencies fetches the full transitive dependency set of one
// project, the project itself excluded.
func (c *CatalogClient) ProjectDependencies(ctx context.Context, repoURL, commit string) (*datatypes.ProjectDependencies, error) {
	path := "/v1/projects/dependencies?" + refQuery(repoURL, commit)
	var out datatypes.ProjectDependencies
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects fetches the status of every cataloged project.
func (c *CatalogClient) ListProjects(ctx context.Context) (*datatypes.ProjectList, error) {
	var out datatypes.ProjectList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/projects/all", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes one project and every edge touching it.
func (c *CatalogClient) DeleteProject(ctx context.Context, repoURL, commit string) (*datatypes.ProjectDeleted, error) {
	req := datatypes.ProjectRef{RepoURL: repoURL, Commit: commit}
	var out datatypes.ProjectDeleted
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/projects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retest queues a fresh test run. An empty pipeline re-tests both.
//
// A pipeline that is still queued or running comes back as a 409 *APIError;
// the catalog only re-tests terminal results.
func (c *CatalogClient) Retest(ctx context.Context, repoURL, commit, pipeline string) (*datatypes.TaskAccepted, error) {
	req := datatypes.RetestProjectRequest{
		ProjectRef: datatypes.ProjectRef{RepoURL: repoURL, Commit: commit},
		Pipeline:   pipeline,
	}
	var out datatypes.TaskAccepted
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects/retest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDependency records one dependency edge between two cataloged projects.
func (c *CatalogClient) AddDependency(ctx context.Context, req datatypes.AddDependencyRequest) (*datatypes.DependencyCreated, error) {
	var out datatypes.DependencyCreated
	if err := c.doJSON(ctx, http.MethodPost, "/v1/dependencies", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// refQuery builds the repo_url/commit query string shared by the read
// endpoints.
func refQuery(repoURL, commit string) string {
	q := url.Values{}
	q.Set("repo_url", repoURL)
	q.Set("commit", commit)
	return q.Encode()
}

// doJSON performs one request and decodes the response.
//
// A 2xx body is decoded into out (skipped when out is nil). Anything else
// is mapped to *APIError with the server's error message and queue-full
// extras when present.
func (c *CatalogClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog unreachable at %s: %w", c.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into *APIError.
func (c *CatalogClient) decodeError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return apiErr
	}

	var parsed struct {
		Error             string   `json:"error"`
		RejectedPipelines []string `json:"rejected_pipelines"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.RejectedPipelines = parsed.RejectedPipelines
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
