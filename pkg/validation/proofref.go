// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for proof references.
//
// This package contains validators for user-provided repository URLs and
// commit hashes that end up in storage keys, filesystem paths, and paper
// URLs. Using these validators prevents path traversal through crafted
// commit strings and keeps identity keys canonical.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// commitPattern matches git commit hashes.
// Allows: 7-40 hex characters (abbreviated through full SHA-1).
var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// repoURLPattern matches the repository URL schemes the catalog accepts.
// Allows: http(s) and ssh git remotes with a non-empty host and path.
var repoURLPattern = regexp.MustCompile(`^(https?|ssh|git)://[^/\s]+/\S+$`)

// ValidateCommit validates a git commit hash.
//
// Valid commits:
//   - 7-40 characters
//   - Lowercase hex digits only
//
// Returns an error if the commit is invalid.
//
// Example:
//
//	if err := validation.ValidateCommit(commit); err != nil {
//	    return fmt.Errorf("invalid commit: %w", err)
//	}
//	// Safe to use in storage keys and checkout paths
func ValidateCommit(commit string) error {
	if commit == "" {
		return fmt.Errorf("commit cannot be empty")
	}

	if !commitPattern.MatchString(commit) {
		return fmt.Errorf("invalid commit format: %q (must be 7-40 lowercase hex chars)", commit)
	}

	return nil
}

// SanitizeCommit normalizes and validates a commit hash.
// Returns the lowercase commit if valid, or an error if invalid.
//
// Use this at API boundaries so that AB12CDE and ab12cde resolve to the
// same proof identity:
//
//	safeCommit, err := validation.SanitizeCommit(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeCommit(commit string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(commit))
	if err := ValidateCommit(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRepoURL validates a git repository URL.
//
// Valid URLs use an http, https, ssh, or git scheme with a host and a path.
// The URL is treated as an opaque identity component; no network lookup is
// performed.
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}

	if !repoURLPattern.MatchString(repoURL) {
		return fmt.Errorf("invalid repository URL: %q (must be scheme://host/path)", repoURL)
	}

	return nil
}

// ValidateProofRef validates a (repository URL, commit) identity pair.
// Returns an error naming the first invalid component.
func ValidateProofRef(repoURL, commit string) error {
	if err := ValidateRepoURL(repoURL); err != nil {
		return err
	}
	if err := ValidateCommit(commit); err != nil {
		return err
	}
	return nil
}
