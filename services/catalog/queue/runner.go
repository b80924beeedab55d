// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// DefaultRunTimeout bounds one collaborator invocation. Verification and
// compilation are long-running; the bound exists to reclaim slots from a hung
// collaborator, not to hurry it.
const DefaultRunTimeout = 30 * time.Minute

// Result is a runner's terminal report for one job.
type Result struct {
	Outcome status.State
	Detail  string
}

// Runner executes one job against a collaborator and reports the terminal
// outcome. Implementations must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, job Job) (Result, error) {
	return f(ctx, job)
}

// runRequest is the body POSTed to a collaborator's run endpoint.
type runRequest struct {
	RepoURL    string `json:"repo_url"`
	Commit     string `json:"commit"`
	Pipeline   string `json:"pipeline"`
	Generation uint64 `json:"generation"`
	TaskID     string `json:"task_id"`
}

// runResponse is the collaborator's terminal report.
type runResponse struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// HTTPRunner invokes a collaborator service over HTTP and waits for its
// terminal report. The endpoint can be swapped at runtime, which config
// reload uses.
//
// Thread Safety: HTTPRunner is safe for concurrent use.
type HTTPRunner struct {
	endpoint   atomic.Value // string
	httpClient *http.Client
}

// HTTPRunnerOption configures an HTTPRunner.
type HTTPRunnerOption func(*HTTPRunner)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		r.httpClient = client
	}
}

// WithRunTimeout sets the per-invocation timeout.
func WithRunTimeout(timeout time.Duration) HTTPRunnerOption {
	return func(r *HTTPRunner) {
		r.httpClient.Timeout = timeout
	}
}

// NewHTTPRunner creates a runner that POSTs jobs to the given endpoint.
func NewHTTPRunner(endpoint string, opts ...HTTPRunnerOption) *HTTPRunner {
	r := &HTTPRunner{
		httpClient: &http.Client{Timeout: DefaultRunTimeout},
	}
	r.endpoint.Store(endpoint)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoint returns the current collaborator endpoint.
func (r *HTTPRunner) Endpoint() string {
	return r.endpoint.Load().(string)
}

// SetEndpoint swaps the collaborator endpoint for future invocations.
// In-flight invocations keep the endpoint they started with.
func (r *HTTPRunner) SetEndpoint(endpoint string) {
	r.endpoint.Store(endpoint)
}

// Run posts the job and maps the collaborator's reply to a terminal result.
//
// Outputs:
//
//	Result - The collaborator's outcome on a 2xx reply.
//	error - Transport failure, non-2xx status, or a malformed reply. The
//	caller maps an error to a fail outcome with the error as detail.
func (r *HTTPRunner) Run(ctx context.Context, job Job) (Result, error) {
	body, err := json.Marshal(runRequest{
		RepoURL:    job.Key.Ref.RepoURL,
		Commit:     job.Key.Ref.Commit,
		Pipeline:   job.Key.Pipeline.String(),
		Generation: job.Key.Generation,
		TaskID:     job.TaskID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := r.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("collaborator returned status %d: %s", resp.StatusCode, string(raw))
	}

	var reply runResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	outcome, err := status.ParseState(reply.Outcome)
	if err != nil || !outcome.Terminal() {
		return Result{}, fmt.Errorf("collaborator reported non-terminal outcome %q", reply.Outcome)
	}

	return Result{Outcome: outcome, Detail: reply.Detail}, nil
}
