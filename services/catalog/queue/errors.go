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
	"errors"
	"fmt"

	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

var (
	// ErrQueueFull indicates the pipeline already has its full capacity of
	// jobs in flight. The caller should surface the overload and let the
	// client retry.
	ErrQueueFull = errors.New("queue full")

	// ErrClosed indicates the queue has been shut down.
	ErrClosed = errors.New("queue closed")
)

// FullError reports which pipeline rejected a publish and at what capacity.
type FullError struct {
	Pipeline status.Pipeline
	Capacity int
}

func (e FullError) Error() string {
	return fmt.Sprintf("%s queue full: %d jobs already in flight", e.Pipeline, e.Capacity)
}

func (e FullError) Unwrap() error {
	return ErrQueueFull
}
