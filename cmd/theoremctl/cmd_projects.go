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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/maxwell3025/theorem-library/pkg/ux"
	"github.com/maxwell3025/theorem-library/pkg/validation"
	"github.com/maxwell3025/theorem-library/services/catalog/datatypes"
)

// requestTimeout bounds every one-shot catalog request the CLI makes.
const requestTimeout = 30 * time.Second

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// runSubmit submits a project, prompting interactively when no arguments
// were given on a terminal.
func runSubmit(cmd *cobra.Command, args []string) {
	var repoURL, commit string

	switch {
	case len(args) == 2:
		repoURL, commit = args[0], args[1]
	case len(args) == 0 && ux.IsInteractive():
		var err error
		repoURL, commit, err = promptSubmission()
		if errors.Is(err, huh.ErrUserAborted) {
			ux.Muted("Submission cancelled.")
			return
		}
		if err != nil {
			fail("Interactive prompt failed", err)
		}
	default:
		fail("Usage", fmt.Errorf("submit needs REPO_URL and COMMIT (or run with no arguments on a terminal)"))
	}

	repoURL = strings.TrimSpace(repoURL)
	commit = strings.ToLower(strings.TrimSpace(commit))
	if err := validation.ValidateRepoURL(repoURL); err != nil {
		fail("Invalid repository URL", err)
	}
	if err := validation.ValidateCommit(commit); err != nil {
		fail("Invalid commit", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	spin := ux.NewSpinner("Validating dependency declarations").WithType(ux.SpinnerProof)
	if !jsonOutput && ux.IsInteractive() {
		spin.Start()
	}

	client := NewCatalogClient(resolveServerURL())
	accepted, err := client.SubmitProject(ctx, repoURL, commit)
	spin.Stop()
	if err != nil {
		failSubmit(err)
	}

	if jsonOutput {
		outputJSON(accepted)
		return
	}

	ux.Success(fmt.Sprintf("Submitted %s@%s", repoURL, shortCommit(commit)))
	ux.KeyValue("task_id", accepted.TaskID)
	ux.KeyValue("status", accepted.Status)
	hint(fmt.Sprintf("theoremctl status %s %s", repoURL, commit))
}

// promptSubmission collects the project identity with an interactive form.
func promptSubmission() (repoURL, commit string, err error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Repository URL").
				Description("Git remote of the proof project").
				Placeholder("https://github.com/math/base-math").
				Value(&repoURL).
				Validate(func(s string) error {
					return validation.ValidateRepoURL(strings.TrimSpace(s))
				}),
			huh.NewInput().
				Title("Commit").
				Description("The exact commit that was proven (7-40 hex)").
				Placeholder("4f2a91c").
				Value(&commit).
				Validate(func(s string) error {
					return validation.ValidateCommit(strings.ToLower(strings.TrimSpace(s)))
				}),
		),
	)
	err = form.Run()
	return repoURL, commit, err
}

// failSubmit reports a submit rejection with the catalog's reasoning.
func failSubmit(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case len(apiErr.RejectedPipelines) > 0:
			ux.Error(fmt.Sprintf("Queue full: %s rejected", strings.Join(apiErr.RejectedPipelines, ", ")))
			if apiErr.RetryAfter != "" {
				ux.Muted(fmt.Sprintf("The project stayed cataloged; retry the tests in %ss.", apiErr.RetryAfter))
			}
			os.Exit(1)
		case apiErr.StatusCode == 422:
			ux.Error("Dependency declarations rejected")
			ux.Info(apiErr.Message)
			os.Exit(1)
		case apiErr.StatusCode == 404:
			ux.Error("Checkout not found")
			ux.Info("Fetch the repository into the catalog's checkout volume before submitting.")
			os.Exit(1)
		}
	}
	fail("Submit failed", err)
}

// runStatus fetches and prints one project's status.
func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	st, err := client.ProjectStatus(ctx, args[0], strings.ToLower(args[1]))
	if err != nil {
		fail("Status query failed", err)
	}

	if jsonOutput {
		outputJSON(st)
		return
	}

	ux.Title(fmt.Sprintf("%s @ %s", st.RepoURL, shortCommit(st.Commit)))
	ux.KeyValue("dependencies", ux.ValidityBadge(st.HasValidDependencies))
	ux.KeyValue("proof", ux.ValidityBadge(st.HasValidProof))
	ux.KeyValue("paper", ux.ValidityBadge(st.HasValidPaper))
	if st.PaperURL != "" {
		ux.KeyValue("paper_url", st.PaperURL)
	}
	if st.HasValidProof == "unknown" || st.HasValidPaper == "unknown" {
		hint("theoremctl watch")
	}
}

// runList prints every cataloged project.
func runList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	list, err := client.ListProjects(ctx)
	if err != nil {
		fail("List failed", err)
	}

	if jsonOutput {
		outputJSON(list)
		return
	}

	if len(list.Projects) == 0 {
		ux.Muted("The catalog is empty.")
		hint("theoremctl submit")
		return
	}

	// Stable order for reading and diffing.
	sort.Slice(list.Projects, func(i, j int) bool {
		if list.Projects[i].RepoURL != list.Projects[j].RepoURL {
			return list.Projects[i].RepoURL < list.Projects[j].RepoURL
		}
		return list.Projects[i].Commit < list.Projects[j].Commit
	})

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, p := range list.Projects {
			fmt.Println(statusLine(p))
		}
		return
	}

	ux.Title(fmt.Sprintf("Cataloged projects (%d)", len(list.Projects)))
	valid, invalid := 0, 0
	for _, p := range list.Projects {
		switch p.HasValidProof {
		case "valid":
			valid++
		case "invalid":
			invalid++
		}
		fmt.Printf("  %s  %s@%s\n", ux.ValidityBadge(p.HasValidProof), p.RepoURL, shortCommit(p.Commit))
		fmt.Printf("      deps %s  paper %s\n",
			ux.ValidityBadge(p.HasValidDependencies), ux.ValidityBadge(p.HasValidPaper))
	}
	ux.Summary(valid, invalid, len(list.Projects))
}

// runRetest queues a fresh test run for a cataloged project.
func runRetest(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	accepted, err := client.Retest(ctx, args[0], strings.ToLower(args[1]), retestPipeline)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 409 {
			ux.Error("Re-test rejected: a pipeline is still queued or running")
			ux.Muted("Wait for the current run to finish; 'theoremctl watch' shows progress.")
			os.Exit(1)
		}
		fail("Re-test failed", err)
	}

	if jsonOutput {
		outputJSON(accepted)
		return
	}

	which := retestPipeline
	if which == "" {
		which = "verification and compilation"
	}
	ux.Success(fmt.Sprintf("Queued %s for %s@%s", which, args[0], shortCommit(args[1])))
	ux.KeyValue("task_id", accepted.TaskID)
}

// runDelete removes a project after confirmation.
func runDelete(cmd *cobra.Command, args []string) {
	repoURL, commit := args[0], strings.ToLower(args[1])

	if !deleteForce {
		if !ux.IsInteractive() {
			fail("Usage", fmt.Errorf("delete needs --force when not run on a terminal"))
		}
		fmt.Printf("Delete %s@%s and every dependency edge touching it? (yes/no): ",
			repoURL, shortCommit(commit))
		reader := bufio.NewReader(os.Stdin)
		input, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(input)) != "yes" {
			ux.Muted("Aborted.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	result, err := client.DeleteProject(ctx, repoURL, commit)
	if err != nil {
		fail("Delete failed", err)
	}

	if jsonOutput {
		outputJSON(result)
		return
	}
	ux.Success(fmt.Sprintf("Deleted %s@%s", repoURL, shortCommit(commit)))
	ux.Muted("Projects that depended on it keep their own records; their dependency validity may change.")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// fail prints an error and exits nonzero.
func fail(msg string, err error) {
	if jsonOutput {
		outputJSON(map[string]string{"error": fmt.Sprintf("%s: %v", msg, err)})
	} else {
		ux.Error(fmt.Sprintf("%s: %v", msg, err))
	}
	os.Exit(1)
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// hint suggests a follow-up command when hints are enabled.
func hint(command string) {
	if !ux.GetPersonality().ShowHints || ux.GetPersonality().Level == ux.PersonalityMachine {
		return
	}
	ux.Muted("  next: " + command)
}

// shortCommit abbreviates a commit hash for display.
func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

// statusLine renders one project status as a compact single line, shared by
// list output and tests.
func statusLine(p datatypes.ProjectStatus) string {
	return fmt.Sprintf("%s@%s deps=%s proof=%s paper=%s",
		p.RepoURL, shortCommit(p.Commit),
		p.HasValidDependencies, p.HasValidProof, p.HasValidPaper)
}
