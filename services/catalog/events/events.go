// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans status transitions out to live subscribers.
//
// The Broadcaster implements status.Sink. Publish is invoked while the status
// tracker holds its lock, so it must never block: every subscriber owns a
// buffered channel, and an event that finds a full channel is dropped and
// counted rather than awaited. Slow consumers lose events; the status tracker
// remains the source of truth they can re-query.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// ===== Metrics =====

var (
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "theoremlib",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber channel was full.",
	}, []string{"reason"})

	eventsSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "theoremlib",
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Currently connected event subscribers.",
	})
)

const (
	dropSlowConsumer = "slow_consumer"
	dropClosed       = "broadcaster_closed"
)

// DefaultChannelDepth is the per-subscriber buffer size.
const DefaultChannelDepth = 64

// DefaultBacklogSize is how many recent events are retained for replay on
// connect.
const DefaultBacklogSize = 256

// Subscription is one consumer's view of the event stream.
type Subscription struct {
	id string
	ch chan status.Event
}

// ID uniquely identifies this subscription.
func (s *Subscription) ID() string {
	return s.id
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is cancelled or the broadcaster shuts down.
func (s *Subscription) Events() <-chan status.Event {
	return s.ch
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithChannelDepth sets the per-subscriber buffer size.
func WithChannelDepth(depth int) BroadcasterOption {
	return func(b *Broadcaster) {
		if depth > 0 {
			b.depth = depth
		}
	}
}

// WithBacklogSize sets how many recent events Recent returns.
func WithBacklogSize(size int) BroadcasterOption {
	return func(b *Broadcaster) {
		if size >= 0 {
			b.backlogSize = size
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// Broadcaster distributes status events to any number of subscribers.
//
// Thread Safety: Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	subs        map[string]*Subscription
	backlog     []status.Event
	backlogSize int
	depth       int
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a Broadcaster with no subscribers.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		subs:        make(map[string]*Subscription),
		depth:       DefaultChannelDepth,
		backlogSize: DefaultBacklogSize,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.backlog = make([]status.Event, 0, b.backlogSize)
	return b
}

var _ status.Sink = (*Broadcaster)(nil)

// Publish fans one event out to every subscriber without blocking.
//
// The caller holds the status tracker's lock, so the only work done here is
// map iteration and non-blocking channel sends.
func (b *Broadcaster) Publish(ev status.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		eventsDropped.WithLabelValues(dropClosed).Inc()
		return
	}

	if b.backlogSize > 0 {
		if len(b.backlog) >= b.backlogSize {
			b.backlog = b.backlog[1:]
		}
		b.backlog = append(b.backlog, ev)
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			eventsDropped.WithLabelValues(dropSlowConsumer).Inc()
			b.logger.Debug("event dropped for slow subscriber",
				"subscription_id", sub.id,
				"proof", ev.Ref.String(),
				"pipeline", ev.Pipeline.String(),
			)
		}
	}
}

// Subscribe registers a new consumer.
//
// After Close, the returned subscription's channel is already closed so that
// consumers terminate immediately instead of hanging.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan status.Event, b.depth),
	}
	if b.closed {
		close(sub.ch)
		return sub
	}

	b.subs[sub.id] = sub
	eventsSubscribers.Set(float64(len(b.subs)))
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (b *Broadcaster) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(sub.ch)
	eventsSubscribers.Set(float64(len(b.subs)))
	return true
}

// Recent returns a copy of the retained event backlog, oldest first.
func (b *Broadcaster) Recent() []status.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]status.Event, len(b.backlog))
	copy(out, b.backlog)
	return out
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broadcaster down. Every subscriber channel is closed and
// later Publish calls are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	eventsSubscribers.Set(0)
}
