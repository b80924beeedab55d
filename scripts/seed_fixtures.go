// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// seed_fixtures materializes example proof checkouts for local development.
//
// Usage:
//
//	go run scripts/seed_fixtures.go [-root DIR]
//
// The catalog never clones repositories itself; a fetch collaborator
// materializes (repo, commit) pairs under the checkout root and the catalog
// only reads them. This script plays the fetch collaborator for a small
// dependency chain so a locally running catalog has something to verify:
//
//	base-math          (foundation, no dependencies)
//	algebra-theorems   (depends on base-math)
//	advanced-proofs    (depends on algebra-theorems and base-math)
//	broken-manifest    (manifest and lakefile disagree; submission gets 422)
//
// Each checkout lands at <root>/<base64url(repo)>/<commit>/ with a
// math-dependencies.json, a lakefile.toml, and a token Lean source file,
// which is exactly the layout the resolver expects. Submit them in chain
// order; the first three validate, the last is rejected on purpose.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/manifest"
)

// fixture describes one checkout to materialize.
type fixture struct {
	PackageName string
	RepoURL     string
	Commit      string
	Lean        string
	Deps        []manifest.Entry
	// LakeDeps overrides the lakefile requires when they should disagree
	// with the manifest. Nil means mirror Deps exactly.
	LakeDeps []manifest.Require
}

// lakeProject is the subset of lakefile.toml the fixtures carry.
type lakeProject struct {
	Name           string             `toml:"name"`
	Version        string             `toml:"version"`
	DefaultTargets []string           `toml:"defaultTargets"`
	Require        []manifest.Require `toml:"require,omitempty"`
}

var fixtures = []fixture{
	{
		PackageName: "BaseMath",
		RepoURL:     "https://github.com/euler/base-math",
		Commit:      "3f2a8c1db6540e9a7b12c84d90e1f5a6b3c7d8e9",
		Lean:        "theorem nat_add_zero (n : Nat) : n + 0 = n := rfl\n",
	},
	{
		PackageName: "AlgebraTheorems",
		RepoURL:     "https://github.com/noether/algebra-theorems",
		Commit:      "9b4e2f7a1c8d3650e9a7b12c84d90e1f5a6b3c7d",
		Lean:        "theorem add_comm' (a b : Nat) : a + b = b + a := Nat.add_comm a b\n",
		Deps: []manifest.Entry{
			{
				PackageName: "BaseMath",
				Git:         "https://github.com/euler/base-math",
				Commit:      "3f2a8c1db6540e9a7b12c84d90e1f5a6b3c7d8e9",
			},
		},
	},
	{
		PackageName: "AdvancedProofs",
		RepoURL:     "https://github.com/galois/advanced-proofs",
		Commit:      "c7d8e9f0a1b2c3d4e5f60718293a4b5c6d7e8f90",
		Lean:        "theorem mul_one' (n : Nat) : n * 1 = n := Nat.mul_one n\n",
		Deps: []manifest.Entry{
			{
				PackageName: "AlgebraTheorems",
				Git:         "https://github.com/noether/algebra-theorems",
				Commit:      "9b4e2f7a1c8d3650e9a7b12c84d90e1f5a6b3c7d",
			},
			{
				PackageName: "BaseMath",
				Git:         "https://github.com/euler/base-math",
				Commit:      "3f2a8c1db6540e9a7b12c84d90e1f5a6b3c7d8e9",
			},
		},
	},
	{
		// The manifest claims base-math at one commit, the lakefile pins
		// another. Submitting this checkout demonstrates the 422 path.
		PackageName: "BrokenManifest",
		RepoURL:     "https://github.com/demo/broken-manifest",
		Commit:      "0123456789abcdef0123456789abcdef01234567",
		Lean:        "theorem trivial_eq : 1 = 1 := rfl\n",
		Deps: []manifest.Entry{
			{
				PackageName: "BaseMath",
				Git:         "https://github.com/euler/base-math",
				Commit:      "3f2a8c1db6540e9a7b12c84d90e1f5a6b3c7d8e9",
			},
		},
		LakeDeps: []manifest.Require{
			{
				Name: "BaseMath",
				Git:  "https://github.com/euler/base-math",
				Rev:  "ffffffffffffffffffffffffffffffffffffffff",
			},
		},
	},
}

func main() {
	defaultRoot := os.Getenv("THEOREMLIB_CHECKOUT_ROOT")
	if defaultRoot == "" {
		defaultRoot = "./checkouts"
	}
	root := flag.String("root", defaultRoot, "checkout root directory the catalog reads")
	flag.Parse()

	for _, f := range fixtures {
		dir, err := writeFixture(*root, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding %s: %v\n", f.PackageName, err)
			os.Exit(1)
		}
		fmt.Printf("seeded %-16s %s\n", f.PackageName, dir)
	}

	fmt.Println()
	fmt.Println("Submit in dependency order (foundations first):")
	for _, f := range fixtures {
		fmt.Printf("  theoremctl submit %s %s\n", f.RepoURL, f.Commit)
	}
	fmt.Println()
	fmt.Println("BrokenManifest carries a deliberate mismatch and is rejected with 422; the others validate.")
}

// writeFixture materializes one checkout directory and returns its path.
func writeFixture(root string, f fixture) (string, error) {
	ref := graph.ProofRef{RepoURL: f.RepoURL, Commit: f.Commit}
	dir := filepath.Join(root, ref.EncodedRepo(), ref.Commit)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	if err := writeManifest(dir, f.Deps); err != nil {
		return "", err
	}
	if err := writeLakefile(dir, f); err != nil {
		return "", err
	}
	leanName := f.PackageName + ".lean"
	if err := os.WriteFile(filepath.Join(dir, leanName), []byte(f.Lean), 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", leanName, err)
	}
	return dir, nil
}

// writeManifest writes math-dependencies.json. Foundation projects get an
// empty list, not a missing file: absence means a malformed checkout.
func writeManifest(dir string, deps []manifest.Entry) error {
	if deps == nil {
		deps = []manifest.Entry{}
	}
	data, err := json.MarshalIndent(deps, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", manifest.ManifestFileName, err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, manifest.ManifestFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", manifest.ManifestFileName, err)
	}
	return nil
}

// writeLakefile writes lakefile.toml with requires mirroring the manifest
// unless the fixture deliberately diverges.
func writeLakefile(dir string, f fixture) error {
	requires := f.LakeDeps
	if requires == nil {
		for _, d := range f.Deps {
			requires = append(requires, manifest.Require{
				Name: d.PackageName,
				Git:  d.Git,
				Rev:  d.Commit,
			})
		}
	}

	project := lakeProject{
		Name:           f.PackageName,
		Version:        "0.1.0",
		DefaultTargets: []string{f.PackageName},
		Require:        requires,
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(project); err != nil {
		return fmt.Errorf("encoding %s: %w", manifest.LakefileName, err)
	}
	path := filepath.Join(dir, manifest.LakefileName)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", manifest.LakefileName, err)
	}
	return nil
}
