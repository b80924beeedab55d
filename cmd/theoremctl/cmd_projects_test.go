// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
)

func TestShortCommit(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"4f2a91c", "4f2a91c"},
		{"4f2a91c8d27b", "4f2a91c8d27b"},
		{"4f2a91c8d27b11aa9a01f34372f1bd0c5de1a901", "4f2a91c8d27b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortCommit(tt.input); got != tt.expected {
			t.Errorf("shortCommit(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestStatusLine(t *testing.T) {
	line := statusLine(datatypes.ProjectStatus{
		RepoURL:              "https://github.com/math/base-math",
		Commit:               "4f2a91c8d27b11aa9a01f34372f1bd0c5de1a901",
		HasValidDependencies: "valid",
		HasValidProof:        "unknown",
		HasValidPaper:        "unknown",
	})
	want := "https://github.com/math/base-math@4f2a91c8d27b deps=valid proof=unknown paper=unknown"
	if line != want {
		t.Errorf("statusLine = %q, want %q", line, want)
	}
}

func TestCommandTreeWiring(t *testing.T) {
	// Every user-facing operation is reachable from the root.
	expected := []string{"submit", "status", "list", "retest", "delete", "deps", "link", "watch"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range expected {
		if !registered[name] {
			t.Errorf("command %q is not registered on the root", name)
		}
	}
}
