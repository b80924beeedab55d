// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of proofs the store can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of dependency edges.
	DefaultMaxEdges = 10_000_000
)

// ProofRef identifies one tracked proof: a git repository at an exact commit.
//
// The pair is the node identity everywhere in the catalog: the graph store,
// the status tracker, queue jobs, and persistence keys are all keyed by it.
// A ProofRef is immutable and comparable; it is safe to use as a map key.
type ProofRef struct {
	// RepoURL is the git repository URL exactly as submitted.
	RepoURL string

	// Commit is the full or abbreviated commit hash, lowercase hex.
	Commit string
}

// String returns "repoURL@commit", the human-readable identity used in logs
// and error messages.
func (r ProofRef) String() string {
	return fmt.Sprintf("%s@%s", r.RepoURL, r.Commit)
}

// IsZero reports whether the reference is empty.
func (r ProofRef) IsZero() bool {
	return r.RepoURL == "" && r.Commit == ""
}

// EncodedRepo returns the URL-safe base64 encoding of RepoURL.
//
// This is the path segment used for checkout directories, storage keys, and
// paper URLs, so a repository URL containing slashes or colons maps to a
// single filesystem-safe component. Padded encoding, matching the paper
// service's layout.
func (r ProofRef) EncodedRepo() string {
	return base64.URLEncoding.EncodeToString([]byte(r.RepoURL))
}

// DependencyRef is one declared dependency from a proof's manifest: the
// package name the proof imports it under plus the proof it resolves to.
type DependencyRef struct {
	// PackageName is the name the dependency is imported under.
	PackageName string

	// Ref is the proof this dependency resolves to.
	Ref ProofRef
}

// Node is one proof tracked by the catalog.
//
// Identity (Ref) and the declared dependency list are immutable once the node
// is created; re-submission of the same identity never rewrites them.
// Verification and compilation statuses are owned by the status tracker, not
// the node.
type Node struct {
	// Ref is the node identity.
	Ref ProofRef

	// Dependencies is the manifest-declared dependency list in declaration
	// order, deduplicated.
	Dependencies []DependencyRef

	// CreatedAt is when the node was first created.
	CreatedAt time.Time
}

// clone returns a deep copy so callers can't mutate store state through
// returned values.
func (n *Node) clone() Node {
	out := Node{
		Ref:       n.Ref,
		CreatedAt: n.CreatedAt,
	}
	if len(n.Dependencies) > 0 {
		out.Dependencies = make([]DependencyRef, len(n.Dependencies))
		copy(out.Dependencies, n.Dependencies)
	}
	return out
}

// Persister receives write-through notifications for every structural
// mutation so the store can be rebuilt after a restart.
//
// Implementations must be safe for concurrent use. A persister error never
// rolls back the in-memory mutation; the store logs it and increments a
// failure counter, and the snapshot self-heals on the next successful write
// of the same key.
type Persister interface {
	// PersistNode records a node and its insertion sequence number.
	PersistNode(n Node, seq uint64) error

	// DeleteNode removes a node record.
	DeleteNode(ref ProofRef) error

	// PersistEdge records a directed edge.
	PersistEdge(src, dst ProofRef) error

	// DeleteEdge removes a directed edge record.
	DeleteEdge(src, dst ProofRef) error
}

// StoreOptions configures Store behavior and limits.
type StoreOptions struct {
	// MaxNodes is the maximum number of nodes the store can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the store can hold.
	// Default: 10,000,000
	MaxEdges int

	// Persister receives write-through notifications. Nil disables
	// persistence (memory only).
	Persister Persister

	// Logger is used for persistence failures. Nil discards.
	Logger *slog.Logger
}

// DefaultStoreOptions returns sensible defaults for store configuration.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// StoreOption is a functional option for configuring Store.
type StoreOption func(*StoreOptions)

// WithMaxNodes sets the maximum number of nodes the store can hold.
func WithMaxNodes(n int) StoreOption {
	return func(o *StoreOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges the store can hold.
func WithMaxEdges(n int) StoreOption {
	return func(o *StoreOptions) {
		o.MaxEdges = n
	}
}

// WithPersister sets the write-through persister.
func WithPersister(p Persister) StoreOption {
	return func(o *StoreOptions) {
		o.Persister = p
	}
}

// WithLogger sets the logger for persistence failures.
func WithLogger(l *slog.Logger) StoreOption {
	return func(o *StoreOptions) {
		o.Logger = l
	}
}
