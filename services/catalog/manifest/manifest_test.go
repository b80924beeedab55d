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
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
)

const (
	baseMathURL    = "http://git-server:3000/git/base-math.git"
	baseMathCommit = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	linAlgURL      = "http://git-server:3000/git/linear-algebra.git"
	linAlgCommit   = "af5626b4a114abcb82d63db7c8082c3c4756e51b"
)

// fakeSource serves declaration files from memory. A nil slice means the file
// does not exist.
type fakeSource struct {
	manifest []byte
	lakefile []byte
}

func (s fakeSource) Manifest(context.Context) ([]byte, error) {
	if s.manifest == nil {
		return nil, fs.ErrNotExist
	}
	return s.manifest, nil
}

func (s fakeSource) Lakefile(context.Context) ([]byte, error) {
	if s.lakefile == nil {
		return nil, fs.ErrNotExist
	}
	return s.lakefile, nil
}

// trackedSet is a map-backed NodeSet.
type trackedSet map[graph.ProofRef]struct{}

func (s trackedSet) Contains(ref graph.ProofRef) bool {
	_, ok := s[ref]
	return ok
}

func tracked(refs ...graph.ProofRef) trackedSet {
	s := make(trackedSet, len(refs))
	for _, ref := range refs {
		s[ref] = struct{}{}
	}
	return s
}

var validManifest = []byte(`[
  {"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "` + baseMathCommit + `"},
  {"packageName": "linear-algebra", "git": "` + linAlgURL + `", "commit": "` + linAlgCommit + `"}
]`)

var validLakefile = []byte(`name = "algebra-theorems"
version = "0.1.0"
defaultTargets = ["AlgebraTheorems"]

[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + baseMathCommit + `"

[[require]]
name = "linear-algebra"
git = "` + linAlgURL + `"
rev = "` + linAlgCommit + `"

[[lean_lib]]
name = "AlgebraTheorems"
`)

func TestValidator_Validate(t *testing.T) {
	baseMath := graph.ProofRef{RepoURL: baseMathURL, Commit: baseMathCommit}
	linAlg := graph.ProofRef{RepoURL: linAlgURL, Commit: linAlgCommit}

	t.Run("matching declarations pass", func(t *testing.T) {
		v := NewValidator(tracked(baseMath, linAlg))
		refs, err := v.Validate(context.Background(), fakeSource{manifest: validManifest, lakefile: validLakefile})
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(refs) != 2 {
			t.Fatalf("len(refs) = %d, want 2", len(refs))
		}
		if refs[0].PackageName != "base-math" || refs[0].Ref != baseMath {
			t.Errorf("refs[0] = %+v, want base-math", refs[0])
		}
		if refs[1].PackageName != "linear-algebra" || refs[1].Ref != linAlg {
			t.Errorf("refs[1] = %+v, want linear-algebra", refs[1])
		}
	})

	t.Run("empty declarations pass", func(t *testing.T) {
		v := NewValidator(tracked())
		refs, err := v.Validate(context.Background(), fakeSource{
			manifest: []byte(`[]`),
			lakefile: []byte(`name = "base-math"` + "\n"),
		})
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(refs) != 0 {
			t.Errorf("len(refs) = %d, want 0", len(refs))
		}
	})

	t.Run("duplicate manifest entries deduplicate", func(t *testing.T) {
		manifest := []byte(`[
  {"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "` + baseMathCommit + `"},
  {"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "` + baseMathCommit + `"}
]`)
		lakefile := []byte(`[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + baseMathCommit + `"
`)
		v := NewValidator(tracked(baseMath))
		refs, err := v.Validate(context.Background(), fakeSource{manifest: manifest, lakefile: lakefile})
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(refs) != 1 {
			t.Errorf("len(refs) = %d, want 1", len(refs))
		}
	})

	t.Run("uppercase manifest commit normalizes", func(t *testing.T) {
		manifest := []byte(`[
  {"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"}
]`)
		lakefile := []byte(`[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + baseMathCommit + `"
`)
		v := NewValidator(tracked(baseMath))
		refs, err := v.Validate(context.Background(), fakeSource{manifest: manifest, lakefile: lakefile})
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if refs[0].Ref.Commit != baseMathCommit {
			t.Errorf("Commit = %s, want normalized lowercase", refs[0].Ref.Commit)
		}
	})

	t.Run("missing manifest is malformed", func(t *testing.T) {
		v := NewValidator(tracked())
		_, err := v.Validate(context.Background(), fakeSource{lakefile: validLakefile})
		if !errors.Is(err, ErrMalformedManifest) {
			t.Errorf("err = %v, want ErrMalformedManifest", err)
		}
	})

	t.Run("missing lakefile is missing metadata", func(t *testing.T) {
		v := NewValidator(tracked(baseMath, linAlg))
		_, err := v.Validate(context.Background(), fakeSource{manifest: validManifest})
		if !errors.Is(err, ErrMissingPackageMetadata) {
			t.Errorf("err = %v, want ErrMissingPackageMetadata", err)
		}
	})

	t.Run("manifest-only pair mismatches", func(t *testing.T) {
		lakefile := []byte(`[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + baseMathCommit + `"
`)
		v := NewValidator(tracked(baseMath, linAlg))
		_, err := v.Validate(context.Background(), fakeSource{manifest: validManifest, lakefile: lakefile})
		if !errors.Is(err, ErrDependencyMismatch) {
			t.Fatalf("err = %v, want ErrDependencyMismatch", err)
		}
		var mismatch MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("err = %v, want MismatchError", err)
		}
		if len(mismatch.ManifestOnly) != 1 || mismatch.ManifestOnly[0] != linAlg {
			t.Errorf("ManifestOnly = %v, want [%s]", mismatch.ManifestOnly, linAlg)
		}
		if len(mismatch.MetadataOnly) != 0 {
			t.Errorf("MetadataOnly = %v, want empty", mismatch.MetadataOnly)
		}
	})

	t.Run("rev disagreement mismatches both ways", func(t *testing.T) {
		manifest := []byte(`[
  {"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "` + baseMathCommit + `"}
]`)
		lakefile := []byte(`[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + linAlgCommit + `"
`)
		v := NewValidator(tracked(baseMath))
		_, err := v.Validate(context.Background(), fakeSource{manifest: manifest, lakefile: lakefile})
		var mismatch MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("err = %v, want MismatchError", err)
		}
		if len(mismatch.ManifestOnly) != 1 || len(mismatch.MetadataOnly) != 1 {
			t.Errorf("mismatch = %+v, want one pair on each side", mismatch)
		}
	})

	t.Run("untracked dependency rejected", func(t *testing.T) {
		v := NewValidator(tracked(baseMath)) // linear-algebra not tracked
		_, err := v.Validate(context.Background(), fakeSource{manifest: validManifest, lakefile: validLakefile})
		if !errors.Is(err, graph.ErrNonexistentDependency) {
			t.Fatalf("err = %v, want ErrNonexistentDependency", err)
		}
		var missing graph.MissingDependencyError
		if !errors.As(err, &missing) {
			t.Fatalf("err = %v, want MissingDependencyError", err)
		}
		if missing.Ref != linAlg {
			t.Errorf("missing.Ref = %s, want %s", missing.Ref, linAlg)
		}
	})
}

func TestParseManifest_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"object instead of list", `{"packageName": "x"}`},
		{"missing packageName", `[{"git": "` + baseMathURL + `", "commit": "` + baseMathCommit + `"}]`},
		{"missing git", `[{"packageName": "base-math", "commit": "` + baseMathCommit + `"}]`},
		{"missing commit", `[{"packageName": "base-math", "git": "` + baseMathURL + `"}]`},
		{"commit not hex", `[{"packageName": "base-math", "git": "` + baseMathURL + `", "commit": "not-a-sha"}]`},
		{"git not a url", `[{"packageName": "base-math", "git": "../../etc/passwd", "commit": "` + baseMathCommit + `"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.data))
			if !errors.Is(err, ErrMalformedManifest) {
				t.Errorf("err = %v, want ErrMalformedManifest", err)
			}
		})
	}
}

func TestParseLakefile(t *testing.T) {
	t.Run("requires without rev are skipped", func(t *testing.T) {
		data := []byte(`name = "scratch"

[[require]]
name = "local-dep"
path = "../local-dep"

[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "` + baseMathCommit + `"
`)
		requires, err := ParseLakefile(data)
		if err != nil {
			t.Fatalf("ParseLakefile: %v", err)
		}
		if len(requires) != 1 {
			t.Fatalf("len(requires) = %d, want 1", len(requires))
		}
		if requires[0].Name != "base-math" {
			t.Errorf("Name = %s, want base-math", requires[0].Name)
		}
	})

	t.Run("invalid toml is malformed", func(t *testing.T) {
		_, err := ParseLakefile([]byte(`[[require` + "\n"))
		if !errors.Is(err, ErrMalformedManifest) {
			t.Errorf("err = %v, want ErrMalformedManifest", err)
		}
	})

	t.Run("rev is normalized", func(t *testing.T) {
		data := []byte(`[[require]]
name = "base-math"
git = "` + baseMathURL + `"
rev = "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"
`)
		requires, err := ParseLakefile(data)
		if err != nil {
			t.Fatalf("ParseLakefile: %v", err)
		}
		if requires[0].Rev != baseMathCommit {
			t.Errorf("Rev = %s, want normalized lowercase", requires[0].Rev)
		}
	})
}
