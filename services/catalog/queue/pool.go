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
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

var poolTracer = otel.Tracer("catalog.queue")

// Tracker is the slice of the status state machine the pool needs.
// *status.Tracker satisfies it.
type Tracker interface {
	MarkRunning(key status.JobKey) bool
	Complete(key status.JobKey, outcome status.State, detail string) (bool, error)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the worker count. Values above the queue capacity buy
// nothing, since capacity bounds in-flight jobs.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPoolLogger sets the structured logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool drains one pipeline's queue through a Runner and feeds outcomes back
// into the status tracker.
//
// Thread Safety: a Pool is driven by its own goroutines; Run may be called
// once.
type Pool struct {
	queue   *Queue
	runner  Runner
	tracker Tracker
	workers int
	logger  *slog.Logger
}

// NewPool creates a worker pool over the given queue.
func NewPool(q *Queue, runner Runner, tracker Tracker, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:   q,
		runner:  runner,
		tracker: tracker,
		workers: 1,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks draining the queue until ctx is cancelled or the queue closes.
//
// Description:
//
//	Starts the configured number of workers. Each worker dequeues a job,
//	reports running, invokes the runner, reports the terminal outcome, and
//	only then releases the job's capacity slot. A runner error maps to a
//	fail outcome with the error text as detail; completion delivery is
//	therefore at-least-once even when the collaborator never answers.
//
// Outputs:
//
//	error - Always nil after a clean drain; retained for errgroup callers.
func (p *Pool) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				job, err := p.queue.Dequeue(gCtx)
				if err != nil {
					if errors.Is(err, ErrClosed) || gCtx.Err() != nil {
						return nil
					}
					return err
				}
				p.process(gCtx, job)
			}
		})
	}

	return g.Wait()
}

// process runs one job end to end. The capacity slot is released on every
// path out of this function.
func (p *Pool) process(ctx context.Context, job Job) {
	defer p.queue.Release()

	ctx, span := poolTracer.Start(ctx, "queue.run_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.pipeline", p.queue.Pipeline().String()),
		attribute.String("job.proof", job.Key.Ref.String()),
		attribute.Int64("job.generation", int64(job.Key.Generation)),
	)

	logger := p.logger.With(
		"pipeline", p.queue.Pipeline().String(),
		"proof", job.Key.Ref.String(),
		"generation", job.Key.Generation,
		"task_id", job.TaskID,
	)

	// A false report means the job was orphaned, typically by a project
	// deletion while it sat in the buffer. Nothing to run.
	if !p.tracker.MarkRunning(job.Key) {
		logger.Info("skipping orphaned job")
		return
	}

	start := time.Now()
	result, err := p.runner.Run(ctx, job)
	if err != nil {
		logger.Warn("runner failed, reporting fail outcome", "error", err)
		result = Result{Outcome: status.StateFail, Detail: err.Error()}
	}
	span.SetAttributes(attribute.String("job.outcome", result.Outcome.String()))

	jobSeconds.WithLabelValues(p.queue.Pipeline().String(), result.Outcome.String()).
		Observe(time.Since(start).Seconds())

	applied, err := p.tracker.Complete(job.Key, result.Outcome, result.Detail)
	if err != nil {
		logger.Error("completion rejected", "error", err, "outcome", result.Outcome.String())
		return
	}
	if !applied {
		// The same outcome already arrived through the internal report
		// endpoint. Harmless by the discard rule.
		logger.Debug("completion already recorded", "outcome", result.Outcome.String())
		return
	}

	logger.Info("job completed",
		"outcome", result.Outcome.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
