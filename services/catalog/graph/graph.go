// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the proof dependency graph store.
//
// The store is an arena of proof nodes keyed by (repository, commit) identity
// plus forward and reverse adjacency. It enforces referential integrity at
// write time (an edge is never created toward an untracked proof) but does
// NOT enforce acyclicity: two proofs may legitimately depend on each other,
// and every consumer of the adjacency must traverse with a visited set.
//
// # Consistency Model
//
// All mutations run under one store mutex with pure in-memory critical
// sections, so concurrent submissions of the same identity serialize and
// converge idempotently while distinct identities never wait on each other's
// external work. Reads either copy state out under the read lock or run a
// caller-supplied function against a consistent View.
//
// Persistence is write-through and best-effort: the in-memory state is the
// source of truth at runtime, the configured Persister maintains a recovery
// snapshot, and a persister failure is logged and counted but never rolls
// back memory.
//
// # Thread Safety
//
// Store is safe for concurrent use. Returned nodes and slices are copies.
package graph

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ===== Metrics =====

var (
	metricNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "theoremlib",
		Subsystem: "graph",
		Name:      "nodes",
		Help:      "Number of proof nodes currently tracked.",
	})

	metricEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "theoremlib",
		Subsystem: "graph",
		Name:      "edges",
		Help:      "Number of dependency edges currently tracked.",
	})

	metricPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "graph",
		Name:      "persist_failures_total",
		Help:      "Write-through persistence failures (memory state unaffected).",
	})
)

// ===== Store =====

// Store holds proof nodes and dependency edges.
type Store struct {
	mu sync.RWMutex

	// nodes is the arena, keyed by identity.
	nodes map[ProofRef]*Node

	// order preserves node insertion order for ListNodes.
	order []ProofRef

	// out holds insertion-ordered edge targets per source.
	// outSet mirrors it for O(1) dedup checks.
	out    map[ProofRef][]ProofRef
	outSet map[ProofRef]map[ProofRef]struct{}

	// in holds edge sources per target, for incident-edge cleanup on delete.
	in map[ProofRef]map[ProofRef]struct{}

	edgeCount int

	// version increments on every structural change; readers use it to
	// detect staleness of derived results.
	version uint64

	// seq is a monotonic insertion counter recorded with each persisted
	// node so rehydration can restore insertion order.
	seq uint64

	opts    StoreOptions
	persist Persister
	logger  *slog.Logger
}

// View is a read-only window over the store, valid only inside the function
// passed to Store.View. Everything observed through one View belongs to a
// single consistent cut of the graph.
type View interface {
	// Contains reports whether the proof is tracked.
	Contains(ref ProofRef) bool

	// Out returns the insertion-ordered edge targets of ref. The returned
	// slice is shared store state and must not be mutated or retained.
	Out(ref ProofRef) []ProofRef

	// Version returns the structural version of this cut.
	Version() uint64
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	options := DefaultStoreOptions()
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		nodes:   make(map[ProofRef]*Node),
		out:     make(map[ProofRef][]ProofRef),
		outSet:  make(map[ProofRef]map[ProofRef]struct{}),
		in:      make(map[ProofRef]map[ProofRef]struct{}),
		opts:    options,
		persist: options.Persister,
		logger:  logger,
	}
}

// UpsertNode creates the node if absent and reports whether it was created.
//
// Description:
//
//	Idempotent by identity. An existing node is left untouched: identity and
//	the declared dependency list are immutable after first creation, so a
//	re-submission never rewrites them.
//
// Inputs:
//
//	ref - Node identity. Must not be zero.
//	deps - Manifest-declared dependency list, stored verbatim on creation.
//
// Outputs:
//
//	bool - True if the node was created, false if it already existed.
//	error - ErrLimitExceeded when the node limit is reached.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) UpsertNode(ref ProofRef, deps []DependencyRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertNodeLocked(ref, deps)
}

// UpsertWithEdges creates the node if absent and adds one edge per declared
// dependency, atomically.
//
// Description:
//
//	The submission path: referential integrity is checked for every
//	dependency target BEFORE any mutation, so a rejection leaves the store
//	exactly as it was (the node is not created, no edge is added). Edges use
//	set semantics; a pair that already exists is silently ignored, so a
//	re-submission converges without duplicates. Cycles are legal: the target
//	check requires existence, not acyclicity.
//
// Inputs:
//
//	ref - Node identity.
//	deps - Validated dependency list; each entry's Ref becomes an edge target.
//
// Outputs:
//
//	bool - True if the node was created by this call.
//	error - MissingDependencyError (unwraps to ErrNonexistentDependency) when
//	        a target is untracked; ErrLimitExceeded on node/edge limits.
//
// Thread Safety: Safe for concurrent use. Concurrent identical submissions
// serialize on the store mutex and converge: one creates, the rest no-op.
func (s *Store) UpsertWithEdges(ref ProofRef, deps []DependencyRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject before any mutation so failure leaves no partial state.
	newEdges := 0
	seen := make(map[ProofRef]struct{}, len(deps))
	for _, d := range deps {
		if _, ok := s.nodes[d.Ref]; !ok {
			return false, MissingDependencyError{Ref: d.Ref}
		}
		if _, dup := seen[d.Ref]; dup {
			continue
		}
		seen[d.Ref] = struct{}{}
		if _, ok := s.outSet[ref][d.Ref]; !ok {
			newEdges++
		}
	}
	if s.opts.MaxEdges > 0 && s.edgeCount+newEdges > s.opts.MaxEdges {
		return false, ErrLimitExceeded
	}

	created, err := s.upsertNodeLocked(ref, deps)
	if err != nil {
		return false, err
	}

	for _, d := range deps {
		if _, err := s.addEdgeLocked(ref, d.Ref); err != nil {
			return created, err
		}
	}
	return created, nil
}

// AddEdge adds one directed dependency edge and reports whether it was new.
//
// Description:
//
//	Manual edge addition, subject to the same referential-integrity rule as
//	manifest edges. A duplicate edge is a no-op.
//
// Outputs:
//
//	bool - True if the edge was added, false if it already existed.
//	error - ErrNotFound when src is untracked, MissingDependencyError when
//	        dst is untracked, ErrLimitExceeded on the edge limit.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) AddEdge(src, dst ProofRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[src]; !ok {
		return false, ErrNotFound
	}
	if _, ok := s.nodes[dst]; !ok {
		return false, MissingDependencyError{Ref: dst}
	}
	return s.addEdgeLocked(src, dst)
}

// DeleteNode removes the node and every edge incident to it, atomically.
//
// Outputs:
//
//	error - ErrNotFound when the node is untracked.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) DeleteNode(ref ProofRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[ref]; !ok {
		return ErrNotFound
	}

	// Outgoing edges: drop reverse entries on each target.
	for _, dst := range s.out[ref] {
		delete(s.in[dst], ref)
		s.edgeCount--
		s.persistDeleteEdge(ref, dst)
	}
	delete(s.out, ref)
	delete(s.outSet, ref)

	// Incoming edges: drop forward entries on each source.
	for src := range s.in[ref] {
		targets := s.out[src]
		for i, t := range targets {
			if t == ref {
				s.out[src] = append(targets[:i], targets[i+1:]...)
				break
			}
		}
		delete(s.outSet[src], ref)
		s.edgeCount--
		s.persistDeleteEdge(src, ref)
	}
	delete(s.in, ref)

	delete(s.nodes, ref)
	for i, r := range s.order {
		if r == ref {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.version++
	metricNodes.Set(float64(len(s.nodes)))
	metricEdges.Set(float64(s.edgeCount))

	if s.persist != nil {
		if err := s.persist.DeleteNode(ref); err != nil {
			s.persistFailed("delete node", ref, err)
		}
	}
	return nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(ref ProofRef) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[ref]
	if !ok {
		return Node{}, ErrNotFound
	}
	return n.clone(), nil
}

// Contains reports whether the proof is tracked.
func (s *Store) Contains(ref ProofRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[ref]
	return ok
}

// ListNodes returns copies of all nodes in insertion order.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.nodes[ref].clone())
	}
	return out
}

// Dependencies returns the direct (one-hop) edge targets of ref in edge
// insertion order.
func (s *Store) Dependencies(ref ProofRef) ([]ProofRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[ref]; !ok {
		return nil, ErrNotFound
	}
	out := make([]ProofRef, len(s.out[ref]))
	copy(out, s.out[ref])
	return out, nil
}

// Dependents returns the proofs with an edge INTO ref, in node insertion
// order. Reverse adjacency is kept as a set, so ordering comes from the
// store's node order rather than edge age.
func (s *Store) Dependents(ref ProofRef) ([]ProofRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[ref]; !ok {
		return nil, ErrNotFound
	}
	sources := s.in[ref]
	out := make([]ProofRef, 0, len(sources))
	for _, r := range s.order {
		if _, ok := sources[r]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of tracked nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of tracked edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgeCount
}

// Version returns the current structural version. It increments on every
// node or edge change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// View runs fn against a single consistent cut of the graph.
//
// Description:
//
//	The read lock is held for the duration of fn, so everything fn observes
//	through the View belongs to one graph state. This is the primitive the
//	query engine builds cycle-safe traversals on. fn must not call mutating
//	store methods (self-deadlock) and must not retain the View.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) View(fn func(v View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(storeView{s: s})
}

// RehydrateNode restores a node from the persistence snapshot without
// writing back through the persister. Load order must be nodes before edges.
func (s *Store) RehydrateNode(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[n.Ref]; ok {
		return nil
	}
	if s.opts.MaxNodes > 0 && len(s.nodes) >= s.opts.MaxNodes {
		return ErrLimitExceeded
	}

	stored := n.clone()
	s.nodes[n.Ref] = &stored
	s.order = append(s.order, n.Ref)
	s.seq++
	s.version++
	metricNodes.Set(float64(len(s.nodes)))
	return nil
}

// RehydrateEdge restores an edge from the persistence snapshot without
// writing back through the persister.
func (s *Store) RehydrateEdge(src, dst ProofRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[src]; !ok {
		return ErrNotFound
	}
	if _, ok := s.nodes[dst]; !ok {
		return MissingDependencyError{Ref: dst}
	}
	if _, ok := s.outSet[src][dst]; ok {
		return nil
	}
	if s.opts.MaxEdges > 0 && s.edgeCount >= s.opts.MaxEdges {
		return ErrLimitExceeded
	}

	s.linkLocked(src, dst)
	s.version++
	metricEdges.Set(float64(s.edgeCount))
	return nil
}

// ===== Internals =====

type storeView struct {
	s *Store
}

func (v storeView) Contains(ref ProofRef) bool {
	_, ok := v.s.nodes[ref]
	return ok
}

func (v storeView) Out(ref ProofRef) []ProofRef {
	return v.s.out[ref]
}

func (v storeView) Version() uint64 {
	return v.s.version
}

// upsertNodeLocked creates the node if absent. Caller holds the write lock.
func (s *Store) upsertNodeLocked(ref ProofRef, deps []DependencyRef) (bool, error) {
	if _, ok := s.nodes[ref]; ok {
		return false, nil
	}
	if s.opts.MaxNodes > 0 && len(s.nodes) >= s.opts.MaxNodes {
		return false, ErrLimitExceeded
	}

	n := Node{
		Ref:       ref,
		CreatedAt: time.Now().UTC(),
	}
	if len(deps) > 0 {
		n.Dependencies = make([]DependencyRef, len(deps))
		copy(n.Dependencies, deps)
	}

	s.nodes[ref] = &n
	s.order = append(s.order, ref)
	s.seq++
	s.version++
	metricNodes.Set(float64(len(s.nodes)))

	if s.persist != nil {
		if err := s.persist.PersistNode(n.clone(), s.seq); err != nil {
			s.persistFailed("persist node", ref, err)
		}
	}
	return true, nil
}

// addEdgeLocked adds src→dst if new. Caller holds the write lock and has
// verified both endpoints exist.
func (s *Store) addEdgeLocked(src, dst ProofRef) (bool, error) {
	if _, ok := s.outSet[src][dst]; ok {
		return false, nil
	}
	if s.opts.MaxEdges > 0 && s.edgeCount >= s.opts.MaxEdges {
		return false, ErrLimitExceeded
	}

	s.linkLocked(src, dst)
	s.version++
	metricEdges.Set(float64(s.edgeCount))

	if s.persist != nil {
		if err := s.persist.PersistEdge(src, dst); err != nil {
			s.persistFailed("persist edge", src, err)
		}
	}
	return true, nil
}

// linkLocked wires src→dst into the adjacency structures.
func (s *Store) linkLocked(src, dst ProofRef) {
	s.out[src] = append(s.out[src], dst)
	if s.outSet[src] == nil {
		s.outSet[src] = make(map[ProofRef]struct{})
	}
	s.outSet[src][dst] = struct{}{}
	if s.in[dst] == nil {
		s.in[dst] = make(map[ProofRef]struct{})
	}
	s.in[dst][src] = struct{}{}
	s.edgeCount++
}

// persistDeleteEdge is the delete-path persistence helper; caller holds the
// write lock.
func (s *Store) persistDeleteEdge(src, dst ProofRef) {
	if s.persist == nil {
		return
	}
	if err := s.persist.DeleteEdge(src, dst); err != nil {
		s.persistFailed("delete edge", src, err)
	}
}

func (s *Store) persistFailed(op string, ref ProofRef, err error) {
	metricPersistFailures.Inc()
	s.logger.Warn("graph persistence failure",
		slog.String("op", op),
		slog.String("ref", ref.String()),
		slog.String("error", err.Error()),
	)
}
