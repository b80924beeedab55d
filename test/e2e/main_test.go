// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package e2e drives the compiled theoremctl binary the way a user does.
//
// TestMain builds the CLI once; the argument-handling tests then run
// anywhere, while tests that need a live catalog probe /healthz first and
// skip when nothing is listening. Point THEOREMLIB_CATALOG_URL at a running
// catalog (default http://localhost:8080) to run the full surface, and set
// THEOREMLIB_E2E_CHECKOUT_ROOT to that catalog's checkout volume to include
// the submission round trip.
package e2e

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

var (
	cliBinary  string
	catalogURL string
)

func TestMain(m *testing.M) {
	// 1. Build the binary
	cwd, _ := os.Getwd()
	cliBinary = filepath.Join(cwd, "theoremctl_e2e")

	// Assuming running from test/e2e/, go up to root
	cmd := exec.Command("go", "build", "-o", cliBinary, "../../cmd/theoremctl")
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Printf("Failed to build CLI: %v\n%s\n", err, out)
		os.Exit(1)
	}

	catalogURL = os.Getenv("THEOREMLIB_CATALOG_URL")
	if catalogURL == "" {
		catalogURL = "http://localhost:8080"
	}

	// 2. Run Tests
	exitCode := m.Run()

	// 3. Cleanup
	os.Remove(cliBinary)
	os.Exit(exitCode)
}

// runCLI executes the built binary and returns its combined output and exit
// code. The binary sees a piped stdout, so it answers in machine personality:
// OK:/ERROR: prefixes and tab-separated detail lines.
func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()

	cmd := exec.Command(cliBinary, args...)
	cmd.Env = append(os.Environ(), "THEOREMLIB_CATALOG_URL="+catalogURL)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("running theoremctl %v: %v\n%s", args, err, out)
	}
	return string(out), exitErr.ExitCode()
}

// requireCatalog skips the test when no catalog answers at catalogURL.
func requireCatalog(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(catalogURL + "/healthz")
	if err != nil {
		t.Skipf("no catalog at %s: %v", catalogURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("catalog at %s is unhealthy: %d", catalogURL, resp.StatusCode)
	}
}
