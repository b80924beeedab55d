// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the bounded per-pipeline job queue and its worker
// pool.
//
// The backpressure contract is reject-publish: when a pipeline already has
// its full capacity of jobs in flight, TryPublish fails immediately with
// ErrQueueFull instead of blocking the caller or dropping the job silently.
// In flight means queued plus running: a capacity slot is acquired at publish
// and released only after the job's completion has been reported, so slow
// downstream work pushes back on producers instead of accumulating latent
// jobs.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// DefaultCapacity is the per-pipeline in-flight bound.
const DefaultCapacity = 3

// ===== Metrics =====

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "theoremlib",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs published but not yet dequeued, per pipeline.",
	}, []string{"pipeline"})

	queueInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "theoremlib",
		Subsystem: "queue",
		Name:      "in_flight",
		Help:      "Jobs holding a capacity slot (queued plus running), per pipeline.",
	}, []string{"pipeline"})

	queuePublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "queue",
		Name:      "published_total",
		Help:      "Successfully published jobs, per pipeline.",
	}, []string{"pipeline"})

	queueRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "queue",
		Name:      "rejected_total",
		Help:      "Publishes rejected because the pipeline was at capacity.",
	}, []string{"pipeline"})

	jobSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "theoremlib",
		Subsystem: "queue",
		Name:      "job_seconds",
		Help:      "Wall time from dequeue to completion report.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"pipeline", "outcome"})
)

// Job is one request to run a pipeline for one proof. Jobs are ephemeral:
// they live in the queue and in worker hands, never in storage.
type Job struct {
	Key        status.JobKey
	TaskID     string
	EnqueuedAt time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the structured logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// Queue is a bounded job queue for a single pipeline.
//
// Thread Safety: Queue is safe for concurrent use.
type Queue struct {
	pipeline status.Pipeline
	capacity int

	// jobs buffers published jobs until a worker dequeues them. slots is the
	// capacity semaphore: a token is taken at publish and returned at
	// Release, after completion. Because a token is held for the job's whole
	// lifetime, len(slots) is the in-flight count and the jobs buffer can
	// never be full while a token is available.
	jobs  chan Job
	slots chan struct{}

	mu     sync.RWMutex
	closed bool

	logger *slog.Logger
}

// NewQueue creates a queue for one pipeline. A non-positive capacity falls
// back to DefaultCapacity.
func NewQueue(pipeline status.Pipeline, capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		pipeline: pipeline,
		capacity: capacity,
		jobs:     make(chan Job, capacity),
		slots:    make(chan struct{}, capacity),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// TryPublish enqueues a job or fails immediately.
//
// Description:
//
//	Attempts to take a capacity slot. With no slot free the publish is
//	rejected with a FullError wrapping ErrQueueFull; nothing blocks and
//	nothing is dropped silently. On success the job is buffered for
//	exactly-once dequeue.
//
// Outputs:
//
//	error - FullError when at capacity, ErrClosed after shutdown, else nil.
func (q *Queue) TryPublish(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.slots <- struct{}{}:
	default:
		queueRejected.WithLabelValues(q.pipeline.String()).Inc()
		q.logger.Info("publish rejected at capacity",
			"pipeline", q.pipeline.String(),
			"capacity", q.capacity,
			"proof", job.Key.Ref.String(),
		)
		return FullError{Pipeline: q.pipeline, Capacity: q.capacity}
	}

	// A held slot guarantees buffer room, so this send cannot block.
	q.jobs <- job

	queuePublished.WithLabelValues(q.pipeline.String()).Inc()
	q.updateGauges()
	return nil
}

// Dequeue hands one job to a worker. Each published job is delivered exactly
// once. Blocks until a job arrives, the context is cancelled, or the queue
// closes.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, ErrClosed
		}
		q.updateGauges()
		return job, nil
	}
}

// Release returns one capacity slot. Called by the worker pool after the
// job's terminal outcome has been reported, never earlier.
func (q *Queue) Release() {
	select {
	case <-q.slots:
		q.updateGauges()
	default:
		q.logger.Warn("release without a held slot", "pipeline", q.pipeline.String())
	}
}

// Depth returns the number of jobs published but not yet dequeued.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// InFlight returns the number of jobs holding a capacity slot.
func (q *Queue) InFlight() int {
	return len(q.slots)
}

// Capacity returns the in-flight bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Pipeline returns the pipeline this queue feeds.
func (q *Queue) Pipeline() status.Pipeline {
	return q.pipeline
}

// Close shuts the queue down. Buffered jobs are still delivered to workers;
// after the buffer drains, Dequeue returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

func (q *Queue) updateGauges() {
	label := q.pipeline.String()
	queueDepth.WithLabelValues(label).Set(float64(len(q.jobs)))
	queueInFlight.WithLabelValues(label).Set(float64(len(q.slots)))
}
