// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest validates a proof's declared dependency descriptor against
// its Lake package metadata before any graph mutation happens.
//
// A checkout carries two declarations of the same dependency set:
// math-dependencies.json, the mathematical dependencies a proof claims, and
// lakefile.toml, the software dependencies Lake actually builds against. The
// validator enforces that the two agree exactly as sets of (git, commit)
// pairs, and that every declared dependency is already tracked in the graph.
// It is purely a gate: no side effects, no mutation.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/maxwell3025/theorem-library/pkg/validation"
	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

const (
	// ManifestFileName is the dependency descriptor file inside a checkout.
	ManifestFileName = "math-dependencies.json"

	// LakefileName is the Lake package description file inside a checkout.
	LakefileName = "lakefile.toml"
)

// Entry is one record of math-dependencies.json.
type Entry struct {
	PackageName string `json:"packageName"`
	Git         string `json:"git"`
	Commit      string `json:"commit"`
}

// Require is one [[require]] section of lakefile.toml. Lake allows requires
// without a pinned rev (path requires, toolchain defaults); those carry no
// (git, rev) pair and are ignored by the cross-check.
type Require struct {
	Name string `toml:"name"`
	Git  string `toml:"git"`
	Rev  string `toml:"rev"`
}

type lakefile struct {
	Require []Require `toml:"require"`
}

// Source yields the raw declaration files of one materialized checkout.
// Implementations return an error satisfying errors.Is(err, fs.ErrNotExist)
// when the file is absent.
type Source interface {
	Manifest(ctx context.Context) ([]byte, error)
	Lakefile(ctx context.Context) ([]byte, error)
}

// NodeSet answers membership queries against the tracked proof set.
// *graph.Store satisfies it.
type NodeSet interface {
	Contains(ref graph.ProofRef) bool
}

// ValidatorOption is a functional option for configuring Validator.
type ValidatorOption func(*Validator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validator cross-checks dependency descriptors against package metadata and
// the graph.
//
// Thread Safety: Validator is safe for concurrent use.
type Validator struct {
	nodes  NodeSet
	logger *slog.Logger
}

// NewValidator creates a Validator that resolves referential checks against
// the given node set.
func NewValidator(nodes NodeSet, opts ...ValidatorOption) *Validator {
	v := &Validator{
		nodes:  nodes,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ParseManifest decodes math-dependencies.json.
//
// Description:
//
//	Decodes the raw bytes as an ordered JSON list of entries and checks each
//	entry for the required fields and well-formed values. Commits are
//	normalized (trimmed, lowercased) before being returned.
//
// Outputs:
//
//	[]Entry - The declared dependencies, in file order.
//	error - ErrMalformedManifest (wrapped) on any structural defect.
func ParseManifest(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s is not a JSON list: %v", ErrMalformedManifest, ManifestFileName, err)
	}

	for i := range entries {
		e := &entries[i]
		if e.PackageName == "" {
			return nil, fmt.Errorf("%w: entry %d missing packageName", ErrMalformedManifest, i)
		}
		if e.Git == "" {
			return nil, fmt.Errorf("%w: entry %q missing git", ErrMalformedManifest, e.PackageName)
		}
		if e.Commit == "" {
			return nil, fmt.Errorf("%w: entry %q missing commit", ErrMalformedManifest, e.PackageName)
		}
		if err := validation.ValidateRepoURL(e.Git); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformedManifest, e.PackageName, err)
		}
		commit, err := validation.SanitizeCommit(e.Commit)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformedManifest, e.PackageName, err)
		}
		e.Commit = commit
	}

	return entries, nil
}

// ParseLakefile decodes the [[require]] sections of lakefile.toml.
//
// Requires missing either git or rev are skipped rather than rejected: Lake
// accepts them, they just carry no pair to cross-check.
func ParseLakefile(data []byte) ([]Require, error) {
	var lf lakefile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %s is not valid TOML: %v", ErrMalformedManifest, LakefileName, err)
	}

	requires := make([]Require, 0, len(lf.Require))
	for _, req := range lf.Require {
		if req.Git == "" || req.Rev == "" {
			continue
		}
		// Revs are normalized but not validated: a lakefile pinning a branch
		// name produces a cross-check mismatch, not a parse failure.
		req.Rev = strings.ToLower(strings.TrimSpace(req.Rev))
		requires = append(requires, req)
	}
	return requires, nil
}

// Validate gates one submission.
//
// Description:
//
//	Reads both declaration files from the source, parses them, enforces
//	exact set equality between the manifest's (git, commit) pairs and the
//	lakefile's (git, rev) pairs, and checks that every declared pair is
//	already a tracked proof.
//
// Inputs:
//
//	ctx - Context for cancellation, passed through to the source.
//	src - The checkout's declaration files.
//
// Outputs:
//
//	[]graph.DependencyRef - Validated, deduplicated references in manifest
//	order.
//	error - ErrMalformedManifest, ErrMissingPackageMetadata, MismatchError,
//	or graph.MissingDependencyError; anything else is a source read failure.
func (v *Validator) Validate(ctx context.Context, src Source) ([]graph.DependencyRef, error) {
	rawManifest, err := src.Manifest(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found in checkout", ErrMalformedManifest, ManifestFileName)
		}
		return nil, fmt.Errorf("reading %s: %w", ManifestFileName, err)
	}
	entries, err := ParseManifest(rawManifest)
	if err != nil {
		return nil, err
	}

	rawLakefile, err := src.Lakefile(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found in checkout", ErrMissingPackageMetadata, LakefileName)
		}
		return nil, fmt.Errorf("reading %s: %w", LakefileName, err)
	}
	requires, err := ParseLakefile(rawLakefile)
	if err != nil {
		return nil, err
	}

	// Deduplicate while preserving manifest order.
	declared := make(map[graph.ProofRef]struct{}, len(entries))
	refs := make([]graph.DependencyRef, 0, len(entries))
	for _, e := range entries {
		ref := graph.ProofRef{RepoURL: e.Git, Commit: e.Commit}
		if _, dup := declared[ref]; dup {
			continue
		}
		declared[ref] = struct{}{}
		refs = append(refs, graph.DependencyRef{PackageName: e.PackageName, Ref: ref})
	}

	pinned := make(map[graph.ProofRef]struct{}, len(requires))
	for _, req := range requires {
		pinned[graph.ProofRef{RepoURL: req.Git, Commit: req.Rev}] = struct{}{}
	}

	if err := crossCheck(declared, pinned); err != nil {
		return nil, err
	}

	for _, ref := range refs {
		if !v.nodes.Contains(ref.Ref) {
			v.logger.DebugContext(ctx, "declared dependency not tracked", "dependency", ref.Ref.String())
			return nil, graph.MissingDependencyError{Ref: ref.Ref}
		}
	}

	return refs, nil
}

// crossCheck enforces exact set equality between the two declarations.
func crossCheck(declared, pinned map[graph.ProofRef]struct{}) error {
	var mismatch MismatchError
	for ref := range declared {
		if _, ok := pinned[ref]; !ok {
			mismatch.ManifestOnly = append(mismatch.ManifestOnly, ref)
		}
	}
	for ref := range pinned {
		if _, ok := declared[ref]; !ok {
			mismatch.MetadataOnly = append(mismatch.MetadataOnly, ref)
		}
	}
	if len(mismatch.ManifestOnly) == 0 && len(mismatch.MetadataOnly) == 0 {
		return nil
	}
	sortRefs(mismatch.ManifestOnly)
	sortRefs(mismatch.MetadataOnly)
	return mismatch
}

func sortRefs(refs []graph.ProofRef) {
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
}
