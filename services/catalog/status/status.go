// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status implements the per-proof, per-pipeline status state machine.
//
// Each (proof, pipeline) pair owns exactly one state:
//
//	untested → queued → running → success|fail
//	success|fail → queued        (explicit re-test)
//
// The tracker is the single writer for every transition. Completion delivery
// is at-least-once end to end (the in-process worker pool and the internal
// REST ingestion endpoint may both report the same outcome), so every
// transition is guarded by a generation counter carried in the job's
// idempotency key: a completion whose generation is not current, or whose
// entry is already terminal, is discarded rather than applied. A re-test
// bumps the generation, which retroactively invalidates any completion still
// in flight for the previous run.
//
// # Thread Safety
//
// Tracker is safe for concurrent use. Transitions for one key are serialized;
// reads take a consistent snapshot under the read lock.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

// ===== Metrics =====

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "status",
		Name:      "transitions_total",
		Help:      "Applied status transitions by pipeline and target state.",
	}, []string{"pipeline", "to"})

	metricDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "status",
		Name:      "discarded_total",
		Help:      "Completion or start signals discarded by the idempotency rules.",
	}, []string{"pipeline", "reason"})
)

// Discard reasons for metricDiscarded.
const (
	discardUnknownKey      = "unknown_key"
	discardStaleGeneration = "stale_generation"
	discardAlreadyTerminal = "already_terminal"
	discardNotQueued       = "not_queued"
)

// ===== Pipelines =====

// Pipeline identifies one of the two asynchronous pipelines tracked per proof.
type Pipeline int

const (
	// PipelineVerification is the formal proof verification pipeline.
	PipelineVerification Pipeline = iota

	// PipelineCompilation is the paper compilation pipeline.
	PipelineCompilation
)

// pipelineNames maps Pipeline values to their wire names.
var pipelineNames = map[Pipeline]string{
	PipelineVerification: "verification",
	PipelineCompilation:  "compilation",
}

// String returns the wire name of the pipeline.
func (p Pipeline) String() string {
	if name, ok := pipelineNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePipeline parses a wire name into a Pipeline.
func ParsePipeline(s string) (Pipeline, error) {
	for p, name := range pipelineNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownPipeline)
}

// AllPipelines returns both pipelines in a fixed order.
func AllPipelines() []Pipeline {
	return []Pipeline{PipelineVerification, PipelineCompilation}
}

// ===== States =====

// State is the status of one pipeline for one proof.
type State int

const (
	// StateUntested means the pipeline has never been enqueued.
	StateUntested State = iota

	// StateQueued means a job is published and waiting for a worker.
	StateQueued

	// StateRunning means a worker has started the job.
	StateRunning

	// StateSuccess is the terminal passing outcome.
	StateSuccess

	// StateFail is the terminal failing outcome.
	StateFail
)

// stateNames maps State values to their wire names.
var stateNames = map[State]string{
	StateUntested: "untested",
	StateQueued:   "queued",
	StateRunning:  "running",
	StateSuccess:  "success",
	StateFail:     "fail",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState parses a wire name into a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownState)
}

// Terminal reports whether the state is a terminal outcome.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFail
}

// ===== Keys and Events =====

// JobKey is the idempotency key of one job: the proof identity, the pipeline,
// and the generation assigned at enqueue. Completion signals carry the key;
// the tracker applies a signal only when the generation is still current.
type JobKey struct {
	Ref        graph.ProofRef
	Pipeline   Pipeline
	Generation uint64
}

// String returns "repo@commit/pipeline#generation".
func (k JobKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Ref, k.Pipeline, k.Generation)
}

// Event describes one applied transition. Events are emitted synchronously
// with the transition, in commit order per key.
type Event struct {
	// Ref is the proof identity.
	Ref graph.ProofRef

	// Pipeline is the pipeline the transition belongs to.
	Pipeline Pipeline

	// From and To are the states before and after the transition.
	From State
	To   State

	// Generation is the job generation the transition applies to.
	Generation uint64

	// TaskID correlates the transition with the submission that caused it.
	TaskID string

	// Detail carries the worker-reported detail for terminal outcomes.
	Detail string

	// At is the transition time.
	At time.Time
}

// Sink receives applied transition events.
//
// Publish is called with the tracker lock held and MUST NOT block; the
// events broadcaster satisfies this by dropping on slow subscribers.
type Sink interface {
	Publish(ev Event)
}

// Persister receives write-through status records for crash recovery.
// Implementations must be safe for concurrent use; errors are logged, not
// propagated.
type Persister interface {
	PersistStatus(ref graph.ProofRef, p Pipeline, st State, gen uint64) error
	DeleteStatuses(ref graph.ProofRef) error
}

// ===== Tracker =====

type trackerKey struct {
	ref      graph.ProofRef
	pipeline Pipeline
}

type entry struct {
	state  State
	gen    uint64
	taskID string
}

// Tracker owns every pipeline status in the catalog.
type Tracker struct {
	mu      sync.RWMutex
	entries map[trackerKey]*entry
	sink    Sink
	persist Persister
	logger  *slog.Logger
}

// TrackerOption is a functional option for configuring Tracker.
type TrackerOption func(*Tracker)

// WithSink sets the event sink for applied transitions.
func WithSink(s Sink) TrackerOption {
	return func(t *Tracker) { t.sink = s }
}

// WithPersister sets the write-through status persister.
func WithPersister(p Persister) TrackerOption {
	return func(t *Tracker) { t.persist = p }
}

// WithLogger sets the logger for persistence failures.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		entries: make(map[trackerKey]*entry),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enqueue transitions the pipeline to queued, coupled to a publish attempt.
//
// Description:
//
//	Allocates the next generation, hands the resulting JobKey to publish,
//	and commits the queued state only if publish returns nil. On a publish
//	failure (queue full) nothing is committed: the state and the observable
//	generation sequence are exactly as before the call. An enqueue on a
//	pipeline that is already queued or running fails with ErrInFlight; the
//	submission path treats that as "job already pending" and moves on.
//	Terminal states re-queue, which is the re-test transition: the bumped
//	generation invalidates any stale completion from the previous run.
//
// Inputs:
//
//	ref - Proof identity.
//	p - Pipeline kind.
//	taskID - Submission correlation ID recorded on the entry and its events.
//	publish - Callback that enqueues the job; typically queue.TryPublish.
//
// Outputs:
//
//	JobKey - The committed idempotency key (zero value on error).
//	error - ErrInFlight, or the publish error verbatim.
//
// Thread Safety: Safe for concurrent use; serialized per tracker.
func (t *Tracker) Enqueue(ref graph.ProofRef, p Pipeline, taskID string, publish func(JobKey) error) (JobKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueueLocked(ref, p, taskID, publish, false)
}

// Retest re-queues a pipeline that already has a terminal result.
//
// Description:
//
//	Same commit discipline as Enqueue, but the pipeline must currently be
//	success or fail: a pipeline that was never tested fails with
//	ErrNotRetestable and an in-flight pipeline fails with ErrInFlight.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracker) Retest(ref graph.ProofRef, p Pipeline, taskID string, publish func(JobKey) error) (JobKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueueLocked(ref, p, taskID, publish, true)
}

// MarkRunning records worker start for the job and reports whether the
// signal was applied. A start signal for a stale generation, an unknown key,
// or a pipeline that is not queued is discarded.
func (t *Tracker) MarkRunning(key JobKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[trackerKey{ref: key.Ref, pipeline: key.Pipeline}]
	if !ok {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardUnknownKey).Inc()
		return false
	}
	if e.gen != key.Generation {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardStaleGeneration).Inc()
		return false
	}
	if e.state != StateQueued {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardNotQueued).Inc()
		return false
	}

	t.commitLocked(key.Ref, key.Pipeline, e, StateRunning, "")
	return true
}

// Complete records a terminal outcome for the job.
//
// Description:
//
//	Applies success or fail when the key's generation is current and the
//	entry is not already terminal; everything else is discarded and reported
//	as not applied. Discarding covers the at-least-once delivery cases: a
//	worker crash-and-retry double report, an external report racing the
//	in-process pool, and a stale completion arriving after a re-test.
//
// Outputs:
//
//	bool - True if the transition was applied.
//	error - ErrInvalidOutcome when outcome is not success/fail.
//
// Thread Safety: Safe for concurrent use.
func (t *Tracker) Complete(key JobKey, outcome State, detail string) (bool, error) {
	if !outcome.Terminal() {
		return false, fmt.Errorf("%s: %w", outcome, ErrInvalidOutcome)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[trackerKey{ref: key.Ref, pipeline: key.Pipeline}]
	if !ok {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardUnknownKey).Inc()
		return false, nil
	}
	if e.gen != key.Generation {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardStaleGeneration).Inc()
		return false, nil
	}
	if e.state.Terminal() {
		metricDiscarded.WithLabelValues(key.Pipeline.String(), discardAlreadyTerminal).Inc()
		return false, nil
	}

	t.commitLocked(key.Ref, key.Pipeline, e, outcome, detail)
	return true, nil
}

// Get returns the current state of one pipeline. Unknown pairs are untested.
func (t *Tracker) Get(ref graph.ProofRef, p Pipeline) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.entries[trackerKey{ref: ref, pipeline: p}]; ok {
		return e.state
	}
	return StateUntested
}

// Generation returns the current generation of one pipeline (0 = never
// enqueued).
func (t *Tracker) Generation(ref graph.ProofRef, p Pipeline) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.entries[trackerKey{ref: ref, pipeline: p}]; ok {
		return e.gen
	}
	return 0
}

// States returns the current state of every pipeline for one proof in one
// consistent read.
func (t *Tracker) States(ref graph.ProofRef) map[Pipeline]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Pipeline]State, 2)
	for _, p := range AllPipelines() {
		out[p] = StateUntested
		if e, ok := t.entries[trackerKey{ref: ref, pipeline: p}]; ok {
			out[p] = e.state
		}
	}
	return out
}

// SnapshotVerification returns the verification state of every given proof
// as one consistent cut: all values belong to the same tracker state, so an
// aggregate computed from them never mixes stale and fresh reads.
func (t *Tracker) SnapshotVerification(refs []graph.ProofRef) map[graph.ProofRef]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[graph.ProofRef]State, len(refs))
	for _, ref := range refs {
		st := StateUntested
		if e, ok := t.entries[trackerKey{ref: ref, pipeline: PipelineVerification}]; ok {
			st = e.state
		}
		out[ref] = st
	}
	return out
}

// Forget drops every pipeline entry for a deleted proof.
func (t *Tracker) Forget(ref graph.ProofRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range AllPipelines() {
		delete(t.entries, trackerKey{ref: ref, pipeline: p})
	}
	if t.persist != nil {
		if err := t.persist.DeleteStatuses(ref); err != nil {
			t.logger.Warn("status persistence failure",
				slog.String("op", "delete"),
				slog.String("ref", ref.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Rehydrate restores one entry from the persistence snapshot without
// emitting events or writing back. Returns true when the restored state is
// queued or running, meaning an interrupted job whose queue slot did not
// survive the restart; callers log those for explicit re-test.
func (t *Tracker) Rehydrate(ref graph.ProofRef, p Pipeline, st State, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[trackerKey{ref: ref, pipeline: p}] = &entry{state: st, gen: gen}
	return st == StateQueued || st == StateRunning
}

// ===== Internals =====

func (t *Tracker) enqueueLocked(ref graph.ProofRef, p Pipeline, taskID string, publish func(JobKey) error, requireTerminal bool) (JobKey, error) {
	k := trackerKey{ref: ref, pipeline: p}
	e, ok := t.entries[k]

	if ok && (e.state == StateQueued || e.state == StateRunning) {
		return JobKey{}, fmt.Errorf("%s/%s is %s: %w", ref, p, e.state, ErrInFlight)
	}
	if requireTerminal && (!ok || !e.state.Terminal()) {
		return JobKey{}, fmt.Errorf("%s/%s: %w", ref, p, ErrNotRetestable)
	}

	var gen uint64 = 1
	if ok {
		gen = e.gen + 1
	}
	key := JobKey{Ref: ref, Pipeline: p, Generation: gen}

	if err := publish(key); err != nil {
		// Nothing committed; the speculative generation dies with the key.
		return JobKey{}, err
	}

	if !ok {
		e = &entry{}
		t.entries[k] = e
	}
	e.gen = gen
	e.taskID = taskID
	t.commitLocked(ref, p, e, StateQueued, "")
	return key, nil
}

// commitLocked applies the transition, emits the event, and persists.
// Caller holds the write lock and has already validated the transition.
func (t *Tracker) commitLocked(ref graph.ProofRef, p Pipeline, e *entry, to State, detail string) {
	from := e.state
	e.state = to
	metricTransitions.WithLabelValues(p.String(), to.String()).Inc()

	if t.sink != nil {
		t.sink.Publish(Event{
			Ref:        ref,
			Pipeline:   p,
			From:       from,
			To:         to,
			Generation: e.gen,
			TaskID:     e.taskID,
			Detail:     detail,
			At:         time.Now().UTC(),
		})
	}
	if t.persist != nil {
		if err := t.persist.PersistStatus(ref, p, to, e.gen); err != nil {
			t.logger.Warn("status persistence failure",
				slog.String("op", "persist"),
				slog.String("ref", ref.String()),
				slog.String("pipeline", p.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
