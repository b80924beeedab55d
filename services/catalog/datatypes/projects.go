// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the catalog
// service.
//
// This file contains the project endpoints (submit, status, dependencies,
// delete, re-test). For the internal completion-report types, see status.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maxwell3025/theorem-library/pkg/validation"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxRepoURLBytes is the maximum size of a repository URL. URLs end up
	// in storage keys and base64 path segments, so unbounded input is a
	// memory and key-bloat vector.
	MaxRepoURLBytes = 2048

	// MaxDetailBytes is the maximum size of a completion-report detail
	// string. Worker logs belong in the worker; the catalog keeps only a
	// summary line.
	MaxDetailBytes = 8 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// catalogValidate is the validator instance for catalog datatypes.
// Initialized in init() with custom validators.
var catalogValidate *validator.Validate

func init() {
	catalogValidate = validator.New()

	_ = catalogValidate.RegisterValidation("commitsha", validateCommitSHA)
	_ = catalogValidate.RegisterValidation("repourl", validateRepoURL)
	_ = catalogValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateCommitSHA validates that a field is a 7-40 character lowercase hex
// commit hash. Sanitize before Validate so case-folded input passes.
func validateCommitSHA(fl validator.FieldLevel) bool {
	return validation.ValidateCommit(fl.Field().String()) == nil
}

// validateRepoURL validates that a field is an acceptable git remote URL and
// under the size cap.
func validateRepoURL(fl validator.FieldLevel) bool {
	repoURL := fl.Field().String()
	if len(repoURL) > MaxRepoURLBytes {
		return false
	}
	return validation.ValidateRepoURL(repoURL) == nil
}

// validateMaxBytes validates that a string field does not exceed
// MaxDetailBytes. Checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxDetailBytes
}

// =============================================================================
// Project Identity
// =============================================================================

// ProjectRef identifies one proof project: a repository URL plus the exact
// commit that was proven. It is the body of submit/delete requests, the
// query-string form of the read endpoints, and the identity element of
// response payloads.
//
// # Fields
//
//   - RepoURL: Required. Git remote URL (http/https/ssh/git scheme).
//     Treated as an opaque identity component; never fetched by the catalog.
//   - Commit: Required. 7-40 lowercase hex commit hash. A branch or tag
//     name is rejected: the same name can point at different proofs over
//     time, and catalog identities must be immutable.
//
// # Validation
//
// Uses go-playground/validator with custom validators:
//   - RepoURL: required, repourl (scheme://host/path, max 2048 bytes)
//   - Commit: required, commitsha (7-40 lowercase hex)
//
// Call Sanitize before Validate so that AB12CDEF and ab12cdef resolve to
// the same identity.
type ProjectRef struct {
	RepoURL string `json:"repo_url" form:"repo_url" validate:"required,repourl"`
	Commit  string `json:"commit" form:"commit" validate:"required,commitsha"`
}

// Sanitize normalizes the reference in place: surrounding whitespace is
// trimmed and the commit hash is lowercased.
func (r *ProjectRef) Sanitize() {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.Commit = strings.ToLower(strings.TrimSpace(r.Commit))
}

// Validate validates the reference fields.
func (r *ProjectRef) Validate() error {
	return catalogValidate.Struct(r)
}

// Ref converts to the graph identity type.
func (r *ProjectRef) Ref() graph.ProofRef {
	return graph.ProofRef{RepoURL: r.RepoURL, Commit: r.Commit}
}

// RefOf builds the wire form of a graph identity.
func RefOf(ref graph.ProofRef) ProjectRef {
	return ProjectRef{RepoURL: ref.RepoURL, Commit: ref.Commit}
}

// =============================================================================
// Request Types
// =============================================================================

// RetestProjectRequest re-queues testing for a cataloged project.
//
// # Fields
//
//   - ProjectRef: Required. The project to re-test.
//   - Pipeline: Optional. "verification" or "compilation"; empty re-tests
//     both pipelines.
type RetestProjectRequest struct {
	ProjectRef
	Pipeline string `json:"pipeline,omitempty" validate:"omitempty,oneof=verification compilation"`
}

// Validate validates the request fields.
func (r *RetestProjectRequest) Validate() error {
	return catalogValidate.Struct(r)
}

// Pipelines resolves the requested pipeline set: the named one, or every
// pipeline when the field was omitted.
func (r *RetestProjectRequest) Pipelines() ([]status.Pipeline, error) {
	if r.Pipeline == "" {
		return status.AllPipelines(), nil
	}
	p, err := status.ParsePipeline(r.Pipeline)
	if err != nil {
		return nil, err
	}
	return []status.Pipeline{p}, nil
}

// AddDependencyRequest records one dependency edge between two cataloged
// projects.
//
// Both endpoints must already exist: the source 404s when absent, the
// dependency target is a referential-integrity failure (422).
type AddDependencyRequest struct {
	SourceRepo       string `json:"source_repo" validate:"required,repourl"`
	SourceCommit     string `json:"source_commit" validate:"required,commitsha"`
	DependencyRepo   string `json:"dependency_repo" validate:"required,repourl"`
	DependencyCommit string `json:"dependency_commit" validate:"required,commitsha"`
}

// Sanitize normalizes both endpoints in place.
func (r *AddDependencyRequest) Sanitize() {
	r.SourceRepo = strings.TrimSpace(r.SourceRepo)
	r.SourceCommit = strings.ToLower(strings.TrimSpace(r.SourceCommit))
	r.DependencyRepo = strings.TrimSpace(r.DependencyRepo)
	r.DependencyCommit = strings.ToLower(strings.TrimSpace(r.DependencyCommit))
}

// Validate validates the request fields.
func (r *AddDependencyRequest) Validate() error {
	return catalogValidate.Struct(r)
}

// Source returns the graph identity of the depending project.
func (r *AddDependencyRequest) Source() graph.ProofRef {
	return graph.ProofRef{RepoURL: r.SourceRepo, Commit: r.SourceCommit}
}

// Dependency returns the graph identity of the depended-on project.
func (r *AddDependencyRequest) Dependency() graph.ProofRef {
	return graph.ProofRef{RepoURL: r.DependencyRepo, Commit: r.DependencyCommit}
}

// =============================================================================
// Response Types
// =============================================================================

// TaskAccepted is the 202 body for submit and re-test: work was queued and
// will complete asynchronously.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// NewTaskAccepted builds the accepted response for one queued task.
func NewTaskAccepted(taskID string) *TaskAccepted {
	return &TaskAccepted{TaskID: taskID, Status: "queued"}
}

// ProjectStatus is the per-project status object returned by the read
// endpoints.
//
// # Fields
//
//   - RepoURL, Commit: Project identity.
//   - HasValidDependencies: "valid" when every transitive dependency has a
//     successful verification, "invalid" when any has failed, "pending"
//     otherwise.
//   - HasValidProof: "valid"/"invalid" once verification reached a terminal
//     state, "unknown" before that.
//   - HasValidPaper: Same vocabulary for the compilation pipeline.
//   - PaperURL: Present only when compilation succeeded.
type ProjectStatus struct {
	RepoURL              string `json:"repo_url"`
	Commit               string `json:"commit"`
	HasValidDependencies string `json:"has_valid_dependencies"`
	HasValidProof        string `json:"has_valid_proof"`
	HasValidPaper        string `json:"has_valid_paper"`
	PaperURL             string `json:"paper_url,omitempty"`
}

// ProjectDependencies is the 200 body for the dependency listing endpoint.
// Dependencies holds the full transitive set, start excluded; order is
// unspecified.
type ProjectDependencies struct {
	RepoURL      string       `json:"repo_url"`
	Commit       string       `json:"commit"`
	Dependencies []ProjectRef `json:"dependencies"`
}

// ProjectList is the 200 body for the catalog listing endpoint.
type ProjectList struct {
	Projects []ProjectStatus `json:"projects"`
}

// ProjectDeleted is the 200 body for project deletion.
type ProjectDeleted struct {
	Deleted bool `json:"deleted"`
}

// DependencyCreated is the 201 body echoing a recorded edge.
type DependencyCreated struct {
	Source     ProjectRef `json:"source"`
	Dependency ProjectRef `json:"dependency"`
}

// =============================================================================
// Status Vocabulary
// =============================================================================

// TestValidity maps a pipeline state onto the valid/invalid/unknown
// vocabulary of the status endpoints: terminal success is "valid", terminal
// fail is "invalid", anything still moving is "unknown".
func TestValidity(st status.State) string {
	switch st {
	case status.StateSuccess:
		return "valid"
	case status.StateFail:
		return "invalid"
	default:
		return "unknown"
	}
}

// PaperURL builds the published-paper URL for a proof whose compilation
// succeeded: <base>/<base64url(repo)>/<commit>/main.pdf. The repository URL
// is base64-encoded so it collapses to a single path segment.
func PaperURL(baseURL string, ref graph.ProofRef) string {
	return strings.TrimRight(baseURL, "/") + "/" + ref.EncodedRepo() + "/" + ref.Commit + "/main.pdf"
}
