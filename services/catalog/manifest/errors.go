// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

var (
	// ErrMalformedManifest indicates math-dependencies.json is absent, not
	// valid JSON, or an entry is missing a required field.
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrMissingPackageMetadata indicates lakefile.toml is absent from the
	// checkout.
	ErrMissingPackageMetadata = errors.New("package metadata not found")

	// ErrDependencyMismatch indicates the manifest and the package metadata
	// declare different dependency sets.
	ErrDependencyMismatch = errors.New("manifest does not match package metadata")
)

// MismatchError reports the exact disagreement between the manifest and the
// package metadata. Both sides are compared as sets of (git, commit) pairs.
type MismatchError struct {
	// ManifestOnly lists pairs declared in math-dependencies.json but not in
	// lakefile.toml.
	ManifestOnly []graph.ProofRef

	// MetadataOnly lists pairs declared in lakefile.toml but not in
	// math-dependencies.json.
	MetadataOnly []graph.ProofRef
}

func (e MismatchError) Error() string {
	var b strings.Builder
	b.WriteString(ErrDependencyMismatch.Error())
	if len(e.ManifestOnly) > 0 {
		b.WriteString(fmt.Sprintf(": manifest declares %s without a matching lakefile require", refList(e.ManifestOnly)))
	}
	if len(e.MetadataOnly) > 0 {
		if len(e.ManifestOnly) > 0 {
			b.WriteString(";")
		} else {
			b.WriteString(":")
		}
		b.WriteString(fmt.Sprintf(" lakefile requires %s without a matching manifest entry", refList(e.MetadataOnly)))
	}
	return b.String()
}

func (e MismatchError) Unwrap() error {
	return ErrDependencyMismatch
}

func refList(refs []graph.ProofRef) string {
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = ref.String()
	}
	return strings.Join(parts, ", ")
}
