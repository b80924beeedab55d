// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maxwell3025/theorem-library/pkg/ux"
	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
)

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runDeps lists the full transitive dependency set of one project.
func runDeps(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	deps, err := client.ProjectDependencies(ctx, args[0], strings.ToLower(args[1]))
	if err != nil {
		fail("Dependency query failed", err)
	}

	if jsonOutput {
		outputJSON(deps)
		return
	}

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, d := range deps.Dependencies {
			fmt.Printf("%s\t%s\n", d.RepoURL, d.Commit)
		}
		return
	}

	ux.Title(fmt.Sprintf("Dependencies of %s @ %s", deps.RepoURL, shortCommit(deps.Commit)))
	if len(deps.Dependencies) == 0 {
		ux.Muted("  No dependencies; this is a foundation project.")
		return
	}

	sorted := make([]datatypes.ProjectRef, len(deps.Dependencies))
	copy(sorted, deps.Dependencies)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RepoURL != sorted[j].RepoURL {
			return sorted[i].RepoURL < sorted[j].RepoURL
		}
		return sorted[i].Commit < sorted[j].Commit
	})

	for _, d := range sorted {
		fmt.Printf("  %s %s@%s\n", ux.IconArrow.Render(), d.RepoURL, shortCommit(d.Commit))
	}
	ux.Muted(fmt.Sprintf("\n%d transitive dependencies", len(sorted)))
}

// runLink records one dependency edge between two cataloged projects.
func runLink(cmd *cobra.Command, args []string) {
	req := datatypes.AddDependencyRequest{
		SourceRepo:       args[0],
		SourceCommit:     strings.ToLower(args[1]),
		DependencyRepo:   args[2],
		DependencyCommit: strings.ToLower(args[3]),
	}
	req.Sanitize()
	if err := req.Validate(); err != nil {
		fail("Invalid arguments", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	created, err := client.AddDependency(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 422 {
			ux.Error("Dependency target is not cataloged")
			ux.Info("Submit the dependency first; edges never point outside the catalog.")
			os.Exit(1)
		}
		fail("Link failed", err)
	}

	if jsonOutput {
		outputJSON(created)
		return
	}

	ux.Success(fmt.Sprintf("Linked %s@%s %s %s@%s",
		created.Source.RepoURL, shortCommit(created.Source.Commit),
		ux.IconArrow.Render(),
		created.Dependency.RepoURL, shortCommit(created.Dependency.Commit)))
	hint(fmt.Sprintf("theoremctl deps %s %s", created.Source.RepoURL, created.Source.Commit))
}
