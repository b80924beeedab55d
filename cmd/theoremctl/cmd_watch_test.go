// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"
	"time"
)

func TestMatchesFilter(t *testing.T) {
	ev := statusEvent{
		RepoURL:  "https://github.com/math/base-math",
		Commit:   "4f2a91c",
		Pipeline: "verification",
	}

	tests := []struct {
		name   string
		repo   string
		commit string
		want   bool
	}{
		{name: "no filter", want: true},
		{name: "repo match", repo: "https://github.com/math/base-math", want: true},
		{name: "repo mismatch", repo: "https://github.com/math/other", want: false},
		{name: "repo and commit match", repo: "https://github.com/math/base-math", commit: "4f2a91c", want: true},
		{name: "commit case-insensitive", repo: "https://github.com/math/base-math", commit: "4F2A91C", want: true},
		{name: "commit mismatch", repo: "https://github.com/math/base-math", commit: "deadbee", want: false},
	}

	origRepo, origCommit := watchRepo, watchCommit
	defer func() { watchRepo, watchCommit = origRepo, origCommit }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watchRepo, watchCommit = tt.repo, tt.commit
			if got := ev.matchesFilter(); got != tt.want {
				t.Errorf("matchesFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatchModelTracksLatestPerPipeline(t *testing.T) {
	events := make(chan statusEvent)
	errs := make(chan error, 1)
	m := newWatchModel("http://localhost:8080", events, errs)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	transitions := []statusEvent{
		{RepoURL: "https://a", Commit: "1111111", Pipeline: "verification", From: "untested", To: "queued", Generation: 1, At: base},
		{RepoURL: "https://a", Commit: "1111111", Pipeline: "verification", From: "queued", To: "running", Generation: 1, At: base.Add(time.Second)},
		{RepoURL: "https://a", Commit: "1111111", Pipeline: "compilation", From: "untested", To: "queued", Generation: 1, At: base.Add(2 * time.Second)},
		{RepoURL: "https://b", Commit: "2222222", Pipeline: "verification", From: "untested", To: "queued", Generation: 1, At: base.Add(3 * time.Second)},
	}

	for _, ev := range transitions {
		updated, _ := m.Update(eventMsg(ev))
		m = updated.(*watchModel)
	}

	if m.seen != 4 {
		t.Errorf("seen = %d, want 4", m.seen)
	}
	// Three distinct (project, pipeline) rows; the second verification event
	// replaced the first rather than adding a row.
	if len(m.rows) != 3 {
		t.Errorf("rows = %d, want 3", len(m.rows))
	}

	key := "https://a\x001111111\x00verification"
	row, ok := m.rows[key]
	if !ok {
		t.Fatalf("missing row for %q", key)
	}
	if row.state != "running" {
		t.Errorf("latest state = %q, want running", row.state)
	}

	rendered := m.tableRows()
	if len(rendered) != 3 {
		t.Fatalf("rendered rows = %d, want 3", len(rendered))
	}
	// Most recent event first.
	if rendered[0][0] != "https://b" {
		t.Errorf("first rendered row = %v, want https://b first", rendered[0])
	}
}

func TestWatchModelQuitKeys(t *testing.T) {
	events := make(chan statusEvent)
	errs := make(chan error, 1)
	m := newWatchModel("http://localhost:8080", events, errs)

	updated, _ := m.Update(streamErrMsg{err: nil})
	if !updated.(*watchModel).quitting {
		t.Error("stream close should quit the model")
	}
}
