// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers transitive-dependency and aggregate-validity
// questions over a graph that may contain cycles.
//
// Traversal is breadth-first with an explicit visited set, so it terminates
// on any input, cycles included, and never yields duplicates. Each traversal
// runs against a single read-locked cut of the graph; aggregate validity then
// takes a single snapshot of the verification states for that cut. The two
// phases are individually torn-read free, which is the consistency the read
// API promises.
//
// Transitive sets are memoized per start node, keyed by the graph's version
// counter, and computed through singleflight so concurrent readers of the
// same node share one traversal.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// ===== Tracing =====

var queryTracer = otel.Tracer("catalog.query")

// ===== Metrics =====

var (
	traversals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "query",
		Name:      "traversals_total",
		Help:      "Transitive-set traversals actually executed (cache misses).",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "query",
		Name:      "cache_hits_total",
		Help:      "Transitive-set lookups served from the version-keyed cache.",
	})
)

// Validity is the three-valued aggregate over a proof's transitive
// dependencies.
type Validity int

const (
	// ValidityPending means no dependency has failed but at least one has
	// not yet reached verification success.
	ValidityPending Validity = iota

	// ValidityValid means every transitive dependency has verification
	// success. An empty dependency set is vacuously valid.
	ValidityValid

	// ValidityInvalid means at least one transitive dependency has
	// verification fail.
	ValidityInvalid
)

var validityNames = map[Validity]string{
	ValidityPending: "pending",
	ValidityValid:   "valid",
	ValidityInvalid: "invalid",
}

func (v Validity) String() string {
	if name, ok := validityNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Validity(%d)", int(v))
}

// Snapshotter is the slice of the status tracker the engine reads.
// *status.Tracker satisfies it.
type Snapshotter interface {
	SnapshotVerification(refs []graph.ProofRef) map[graph.ProofRef]status.State
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheLimit caps the number of memoized transitive sets. When the cap
// is crossed the cache resets wholesale; entries are cheap to recompute.
func WithCacheLimit(limit int) EngineOption {
	return func(e *Engine) {
		if limit > 0 {
			e.cacheLimit = limit
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// DefaultCacheLimit caps the memoized transitive sets.
const DefaultCacheLimit = 4096

type cachedSet struct {
	version uint64
	refs    []graph.ProofRef
}

// Engine computes read queries over the graph store and status tracker.
//
// Thread Safety: Engine is safe for concurrent use.
type Engine struct {
	store  *graph.Store
	states Snapshotter
	flight singleflight.Group

	mu         sync.Mutex
	cache      map[graph.ProofRef]cachedSet
	cacheLimit int

	logger *slog.Logger
}

// NewEngine creates an Engine over the given store and status snapshotter.
func NewEngine(store *graph.Store, states Snapshotter, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		states:     states,
		cache:      make(map[graph.ProofRef]cachedSet),
		cacheLimit: DefaultCacheLimit,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransitiveDependencies returns every proof reachable from start by
// following dependency edges, excluding start itself.
//
// Description:
//
//	Breadth-first traversal with a visited set. On the mutual cycle A<->B
//	the result from A is {B}: the visited set stops re-expansion and the
//	start node is excluded even when a cycle leads back to it. The returned
//	slice is in discovery order and must not be mutated by the caller when
//	it comes from cache; handlers copy before annotating.
//
// Outputs:
//
//	[]graph.ProofRef - The deduplicated transitive set, start excluded.
//	error - graph.ErrNotFound if start is not tracked.
func (e *Engine) TransitiveDependencies(ctx context.Context, start graph.ProofRef) ([]graph.ProofRef, error) {
	_, span := queryTracer.Start(ctx, "query.transitive_dependencies")
	defer span.End()
	span.SetAttributes(
		attribute.String("proof.repo_url", start.RepoURL),
		attribute.String("proof.commit", start.Commit),
	)

	version := e.store.Version()

	e.mu.Lock()
	if entry, ok := e.cache[start]; ok && entry.version == version {
		e.mu.Unlock()
		cacheHits.Inc()
		span.SetAttributes(attribute.Bool("query.cache_hit", true))
		return entry.refs, nil
	}
	e.mu.Unlock()

	// Collapse concurrent traversals of the same node at the same graph
	// version into one execution. The closure deliberately ignores the
	// caller's ctx: one caller canceling must not fail the shared traversal.
	key := fmt.Sprintf("%s#%d", start.String(), version)
	refs, err, shared := e.flight.Do(key, func() (any, error) {
		return e.traverse(start, version)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("query.cache_hit", false),
		attribute.Bool("query.shared_flight", shared),
		attribute.Int("query.set_size", len(refs.([]graph.ProofRef))),
	)
	return refs.([]graph.ProofRef), nil
}

// traverse walks the graph under one read lock and memoizes the result.
func (e *Engine) traverse(start graph.ProofRef, version uint64) ([]graph.ProofRef, error) {
	var (
		result []graph.ProofRef
		found  bool
	)

	e.store.View(func(v graph.View) {
		if !v.Contains(start) {
			return
		}
		found = true

		visited := map[graph.ProofRef]struct{}{start: {}}
		frontier := []graph.ProofRef{start}
		result = make([]graph.ProofRef, 0)

		for len(frontier) > 0 {
			next := make([]graph.ProofRef, 0)
			for _, ref := range frontier {
				for _, dep := range v.Out(ref) {
					if _, seen := visited[dep]; seen {
						continue
					}
					visited[dep] = struct{}{}
					result = append(result, dep)
					next = append(next, dep)
				}
			}
			frontier = next
		}
	})

	if !found {
		return nil, graph.ErrNotFound
	}
	traversals.Inc()

	e.mu.Lock()
	if len(e.cache) >= e.cacheLimit {
		e.logger.Debug("transitive cache reset", "entries", len(e.cache))
		e.cache = make(map[graph.ProofRef]cachedSet)
	}
	e.cache[start] = cachedSet{version: version, refs: result}
	e.mu.Unlock()

	return result, nil
}

// DependencyValidity aggregates verification states over the transitive set.
//
// Description:
//
//	valid when every transitive dependency reports verification success,
//	invalid when any reports fail, pending otherwise. The graph cut and the
//	status snapshot are each taken atomically; a proof with no dependencies
//	is vacuously valid.
//
// Outputs:
//
//	Validity - The three-valued aggregate.
//	error - graph.ErrNotFound if start is not tracked.
func (e *Engine) DependencyValidity(ctx context.Context, start graph.ProofRef) (Validity, error) {
	ctx, span := queryTracer.Start(ctx, "query.dependency_validity")
	defer span.End()

	deps, err := e.TransitiveDependencies(ctx, start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ValidityPending, err
	}
	if len(deps) == 0 {
		return ValidityValid, nil
	}

	states := e.states.SnapshotVerification(deps)

	validity := ValidityValid
	for _, dep := range deps {
		switch states[dep] {
		case status.StateFail:
			return ValidityInvalid, nil
		case status.StateSuccess:
		default:
			validity = ValidityPending
		}
	}
	return validity, nil
}
