// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver locates a proof's materialized checkout on the shared
// volume.
//
// Repository fetching is an external collaborator's job: the fetch service
// clones (repo, commit) pairs into a directory tree this service only reads.
// The layout mirrors the storage key scheme,
//
//	<root>/<base64url(repo url)>/<commit>/
//
// which is path-safe by construction: the encoded repo contains no slashes
// and the commit is validated hex before it ever reaches this package.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/manifest"
)

// ErrCheckoutMissing indicates the fetch collaborator has not materialized
// this (repo, commit) pair.
var ErrCheckoutMissing = errors.New("checkout not materialized")

// MissingError names the proof whose checkout was not found.
type MissingError struct {
	Ref graph.ProofRef
}

func (e MissingError) Error() string {
	return fmt.Sprintf("checkout for %s not materialized", e.Ref)
}

func (e MissingError) Unwrap() error {
	return ErrCheckoutMissing
}

// MaxDeclarationSize caps a declaration file read. Manifests and lakefiles
// are a few KB; anything near this limit is hostile or corrupt.
const MaxDeclarationSize = 4 << 20

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver maps proof identities to checkout directories.
//
// Thread Safety: Resolver is safe for concurrent use.
type Resolver struct {
	root   string
	logger *slog.Logger
}

// NewResolver creates a Resolver over the checkout root directory.
func NewResolver(root string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		root:   filepath.Clean(root),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve locates the checkout for one proof.
//
// Outputs:
//
//	Checkout - A read handle on the checkout directory.
//	error - MissingError (unwraps to ErrCheckoutMissing) when the directory
//	does not exist; other errors are filesystem failures.
func (r *Resolver) Resolve(ctx context.Context, ref graph.ProofRef) (Checkout, error) {
	if err := ctx.Err(); err != nil {
		return Checkout{}, err
	}

	dir := filepath.Join(r.root, ref.EncodedRepo(), ref.Commit)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.DebugContext(ctx, "checkout not found", "proof", ref.String(), "dir", dir)
			return Checkout{}, MissingError{Ref: ref}
		}
		return Checkout{}, fmt.Errorf("stat checkout %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Checkout{}, fmt.Errorf("checkout path %s is not a directory", dir)
	}

	return Checkout{dir: dir, ref: ref}, nil
}

// Checkout is a read handle on one materialized (repo, commit) directory.
// It satisfies manifest.Source.
type Checkout struct {
	dir string
	ref graph.ProofRef
}

var _ manifest.Source = Checkout{}

// Dir returns the checkout directory.
func (c Checkout) Dir() string {
	return c.dir
}

// Ref returns the proof identity this checkout belongs to.
func (c Checkout) Ref() graph.ProofRef {
	return c.ref
}

// Manifest reads math-dependencies.json. A missing file satisfies
// errors.Is(err, fs.ErrNotExist).
func (c Checkout) Manifest(ctx context.Context) ([]byte, error) {
	return c.readFile(ctx, manifest.ManifestFileName)
}

// Lakefile reads lakefile.toml. A missing file satisfies
// errors.Is(err, fs.ErrNotExist).
func (c Checkout) Lakefile(ctx context.Context) ([]byte, error) {
	return c.readFile(ctx, manifest.LakefileName)
}

func (c Checkout) readFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(c.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxDeclarationSize {
		return nil, fmt.Errorf("%s is %d bytes, above the %d byte limit", name, info.Size(), MaxDeclarationSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}
