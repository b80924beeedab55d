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
// This file contains the internal completion-report endpoint types. External
// test workers POST these; the endpoint is bearer-token guarded and not part
// of the public surface.
package datatypes

import (
	"strings"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// StatusReport is one at-least-once completion report from an external test
// worker.
//
// # Fields
//
//   - RepoURL, Commit: Required. The project the job ran for.
//   - Pipeline: Required. "verification" or "compilation".
//   - Generation: Required. The idempotency key issued when the job was
//     queued. A report carrying a superseded generation is discarded, which
//     is what makes redelivery and re-test racing safe.
//   - Outcome: Required. "running" marks the job started; "success" and
//     "fail" are terminal.
//   - Detail: Optional. One summary line (worker log excerpt, failure
//     reason). Capped at 8KB.
//
// # Validation
//
// Uses go-playground/validator with the package's custom validators:
//   - RepoURL: required, repourl
//   - Commit: required, commitsha
//   - Pipeline: required, oneof
//   - Generation: required (generations start at 1, so 0 never validates)
//   - Outcome: required, oneof
//   - Detail: maxbytes (8192)
type StatusReport struct {
	RepoURL    string `json:"repo_url" validate:"required,repourl"`
	Commit     string `json:"commit" validate:"required,commitsha"`
	Pipeline   string `json:"pipeline" validate:"required,oneof=verification compilation"`
	Generation uint64 `json:"generation" validate:"required"`
	Outcome    string `json:"outcome" validate:"required,oneof=running success fail"`
	Detail     string `json:"detail,omitempty" validate:"maxbytes"`
}

// Sanitize normalizes the report in place.
func (r *StatusReport) Sanitize() {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.Commit = strings.ToLower(strings.TrimSpace(r.Commit))
	r.Pipeline = strings.ToLower(strings.TrimSpace(r.Pipeline))
	r.Outcome = strings.ToLower(strings.TrimSpace(r.Outcome))
}

// Validate validates the report fields.
func (r *StatusReport) Validate() error {
	return catalogValidate.Struct(r)
}

// Ref returns the graph identity the report applies to.
func (r *StatusReport) Ref() graph.ProofRef {
	return graph.ProofRef{RepoURL: r.RepoURL, Commit: r.Commit}
}

// Key resolves the tracker key this report addresses. Validate first; this
// assumes Pipeline already passed the oneof check.
func (r *StatusReport) Key() (status.JobKey, error) {
	p, err := status.ParsePipeline(r.Pipeline)
	if err != nil {
		return status.JobKey{}, err
	}
	return status.JobKey{Ref: r.Ref(), Pipeline: p, Generation: r.Generation}, nil
}

// StatusReportResult is the 200 body for a completion report. Applied is
// false when the report was discarded as stale or duplicate; workers treat
// both the same way and stop retrying.
type StatusReportResult struct {
	Applied bool `json:"applied"`
}
