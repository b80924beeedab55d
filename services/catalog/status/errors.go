// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import "errors"

// Sentinel errors for tracker operations.
var (
	// ErrInFlight is returned when an enqueue or re-test targets a pipeline
	// that is already queued or running. The in-flight job keeps the current
	// generation; callers retry after it reaches a terminal state.
	ErrInFlight = errors.New("pipeline already in flight")

	// ErrNotRetestable is returned when a re-test targets a pipeline that has
	// no terminal result (never tested, or entry unknown). Only success and
	// fail may transition back to queued.
	ErrNotRetestable = errors.New("no terminal result to re-test")

	// ErrInvalidOutcome is returned when a completion carries an outcome
	// other than success or fail.
	ErrInvalidOutcome = errors.New("completion outcome must be success or fail")

	// ErrUnknownPipeline is returned when a pipeline name does not parse.
	ErrUnknownPipeline = errors.New("unknown pipeline")

	// ErrUnknownState is returned when a state name does not parse.
	ErrUnknownState = errors.New("unknown state")
)
