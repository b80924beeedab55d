// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

func testRef() graph.ProofRef {
	return graph.ProofRef{
		RepoURL: "https://github.com/example/base-math",
		Commit:  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
}

// materialize lays out a checkout directory the way the fetch collaborator
// does and returns the checkout root.
func materialize(t *testing.T, ref graph.ProofRef, files map[string][]byte) string {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, ref.EncodedRepo(), ref.Commit)
	require.NoError(t, os.MkdirAll(dir, 0750))
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0640))
	}
	return root
}

// TestResolve_Materialized verifies a checkout on disk resolves to a handle
// whose directory and identity round-trip.
func TestResolve_Materialized(t *testing.T) {
	ref := testRef()
	root := materialize(t, ref, map[string][]byte{
		"math-dependencies.json": []byte("[]"),
	})

	r := NewResolver(root)
	co, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ref.EncodedRepo(), ref.Commit), co.Dir())
	assert.Equal(t, ref, co.Ref())
}

// TestResolve_Missing verifies an unmaterialized pair reports
// ErrCheckoutMissing with the proof identity attached.
func TestResolve_Missing(t *testing.T) {
	r := NewResolver(t.TempDir())

	_, err := r.Resolve(context.Background(), testRef())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckoutMissing)

	var missing MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, testRef(), missing.Ref)
}

// TestResolve_PathIsFile verifies a plain file where the checkout directory
// should be is surfaced as a hard error, not a missing checkout.
func TestResolve_PathIsFile(t *testing.T) {
	ref := testRef()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ref.EncodedRepo()), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(root, ref.EncodedRepo(), ref.Commit), []byte("x"), 0640))

	_, err := NewResolver(root).Resolve(context.Background(), ref)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCheckoutMissing)
	assert.Contains(t, err.Error(), "not a directory")
}

// TestResolve_ContextCanceled verifies a canceled context short-circuits.
func TestResolve_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(t.TempDir()).Resolve(ctx, testRef())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestCheckout_ReadsDeclarations verifies the manifest and lakefile contents
// come back byte for byte.
func TestCheckout_ReadsDeclarations(t *testing.T) {
	ref := testRef()
	manifestJSON := []byte(`[{"packageName":"base","git":"https://github.com/example/base","commit":"af5626b4a114abcb82d63db7c8082c3c4756e51b"}]`)
	lakefileTOML := []byte("name = \"base-math\"\n")
	root := materialize(t, ref, map[string][]byte{
		"math-dependencies.json": manifestJSON,
		"lakefile.toml":          lakefileTOML,
	})

	co, err := NewResolver(root).Resolve(context.Background(), ref)
	require.NoError(t, err)

	got, err := co.Manifest(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(manifestJSON, got))

	got, err = co.Lakefile(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(lakefileTOML, got))
}

// TestCheckout_MissingFile verifies an absent declaration file satisfies
// fs.ErrNotExist so the manifest validator can classify it.
func TestCheckout_MissingFile(t *testing.T) {
	ref := testRef()
	root := materialize(t, ref, map[string][]byte{
		"math-dependencies.json": []byte("[]"),
	})

	co, err := NewResolver(root).Resolve(context.Background(), ref)
	require.NoError(t, err)

	_, err = co.Lakefile(context.Background())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

// TestCheckout_OversizedFile verifies the declaration size cap.
func TestCheckout_OversizedFile(t *testing.T) {
	ref := testRef()
	root := materialize(t, ref, map[string][]byte{
		"math-dependencies.json": make([]byte, MaxDeclarationSize+1),
	})

	co, err := NewResolver(root).Resolve(context.Background(), ref)
	require.NoError(t, err)

	_, err = co.Manifest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit")
}
