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
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when an operation targets a proof that is not
	// in the store (delete, read, or edge source lookup).
	ErrNotFound = errors.New("proof not found")

	// ErrNonexistentDependency is returned when an edge would point at a
	// proof that is not in the store. Referential integrity is enforced at
	// write time; the write is rejected in full and no partial state is left
	// behind.
	ErrNonexistentDependency = errors.New("dependency not tracked")

	// ErrLimitExceeded is returned when a mutation would push the store past
	// its configured node or edge limit.
	ErrLimitExceeded = errors.New("graph limit exceeded")
)

// MissingDependencyError reports which dependency reference had no tracked
// proof when referential integrity was checked.
type MissingDependencyError struct {
	// Ref is the dependency that is not tracked.
	Ref ProofRef
}

// Error implements the error interface.
func (e MissingDependencyError) Error() string {
	return fmt.Sprintf("dependency %s has no tracked proof", e.Ref)
}

// Unwrap returns ErrNonexistentDependency for errors.Is support.
func (e MissingDependencyError) Unwrap() error {
	return ErrNonexistentDependency
}
