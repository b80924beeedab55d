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
	"github.com/spf13/cobra"

	"github.com/maxwell3025/theorem-library/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverURL        string // Catalog base URL (--server / THEOREMLIB_CATALOG_URL)
	jsonOutput       bool   // Machine-readable output for scripting
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	retestPipeline string // --pipeline for retest (verification/compilation)
	deleteForce    bool   // --force for delete
	watchRepo      string // watch filter: repository URL
	watchCommit    string // watch filter: commit hash
	watchReplay    bool   // watch: replay retained backlog on connect

	rootCmd = &cobra.Command{
		Use:   "theoremctl",
		Short: "A cli to browse and manage the formally verified theorem catalog",
		Long: `theoremctl is the terminal client for the theorem library catalog.

Projects are identified by a git repository URL plus the exact commit that
was proven. Submitting a project validates its dependency declarations,
records it in the catalog graph, and queues verification and paper
compilation; both run asynchronously, so submit returns immediately and
'theoremctl status' or 'theoremctl watch' shows progress.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			if jsonOutput {
				ux.SetPersonalityLevel(ux.PersonalityMachine)
			}
		},
	}

	// --- Project Lifecycle ---
	submitCmd = &cobra.Command{
		Use:   "submit [repo-url commit]",
		Short: "Submit a proof project for cataloging and testing",
		Long: `Submit a proof project to the catalog.

The repository must already be fetched into the catalog's checkout volume;
submit validates its dependency declarations (math-dependencies.json against
lakefile.toml), records the project and its dependency edges, and queues
verification and paper compilation.

Run with no arguments on a terminal to fill the fields interactively.

Examples:
  theoremctl submit https://github.com/math/base-math 4f2a91c
  theoremctl submit`,
		Args: cobra.RangeArgs(0, 2),
		Run:  runSubmit, // Defined in cmd_projects.go
	}

	statusCmd = &cobra.Command{
		Use:   "status REPO_URL COMMIT",
		Short: "Show the test status and paper link for one project",
		Args:  cobra.ExactArgs(2),
		Run:   runStatus, // Defined in cmd_projects.go
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List every cataloged project with its status",
		Run:   runList, // Defined in cmd_projects.go
	}

	retestCmd = &cobra.Command{
		Use:   "retest REPO_URL COMMIT",
		Short: "Queue a fresh test run for an already cataloged project",
		Long: `Queue a fresh verification or compilation run.

Only pipelines that already reached a terminal result (success or fail) can
be re-tested; a pipeline still queued or running is rejected with a conflict.

Examples:
  theoremctl retest https://github.com/math/base-math 4f2a91c
  theoremctl retest https://github.com/math/base-math 4f2a91c --pipeline verification`,
		Args: cobra.ExactArgs(2),
		Run:  runRetest, // Defined in cmd_projects.go
	}

	deleteCmd = &cobra.Command{
		Use:   "delete REPO_URL COMMIT",
		Short: "Remove a project and all its dependency edges from the catalog",
		Args:  cobra.ExactArgs(2),
		Run:   runDelete, // Defined in cmd_projects.go
	}

	// --- Dependency Graph ---
	depsCmd = &cobra.Command{
		Use:   "deps REPO_URL COMMIT",
		Short: "List the full transitive dependency set of a project",
		Long: `List every project the given one depends on, directly or transitively.

The starting project itself is not included. Dependency cycles are legal in
the catalog; the traversal handles them, so this always terminates.`,
		Args: cobra.ExactArgs(2),
		Run:  runDeps, // Defined in cmd_deps.go
	}

	linkCmd = &cobra.Command{
		Use:   "link SOURCE_REPO SOURCE_COMMIT DEP_REPO DEP_COMMIT",
		Short: "Record a dependency edge between two cataloged projects",
		Long: `Record that SOURCE depends on DEP.

Both projects must already be cataloged: the source is looked up first (404
when absent), and an absent dependency target is a referential-integrity
rejection. Recording the same edge twice is a no-op.`,
		Args: cobra.ExactArgs(4),
		Run:  runLink, // Defined in cmd_deps.go
	}

	// --- Live Events ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch live status transitions from the catalog",
		Long: `Stream status transitions from the catalog's websocket event feed.

On a terminal this renders a live-updating table of the latest transition
per (project, pipeline). Piped or with --json it prints one event per line.

Examples:
  theoremctl watch
  theoremctl watch --repo https://github.com/math/base-math
  theoremctl watch --json | jq .to`,
		Run: runWatch, // Defined in cmd_watch.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Catalog base URL (default $THEOREMLIB_CATALOG_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(retestCmd)
	retestCmd.Flags().StringVar(&retestPipeline, "pipeline", "",
		"Re-test only one pipeline: verification or compilation (default both)")

	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Skip the confirmation prompt")

	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(linkCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchRepo, "repo", "",
		"Only show events for this repository URL")
	watchCmd.Flags().StringVar(&watchCommit, "commit", "",
		"Only show events for this commit (requires --repo)")
	watchCmd.Flags().BoolVar(&watchReplay, "replay", true,
		"Replay the retained event backlog on connect")
}
