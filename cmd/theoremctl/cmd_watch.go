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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maxwell3025/theorem-library/pkg/ux"
)

// =============================================================================
// Wire Types
// =============================================================================

// statusEvent mirrors the catalog's websocket event shape.
type statusEvent struct {
	Type       string    `json:"type"`
	RepoURL    string    `json:"repo_url"`
	Commit     string    `json:"commit"`
	Pipeline   string    `json:"pipeline"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Generation uint64    `json:"generation"`
	TaskID     string    `json:"task_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// matchesFilter applies the --repo/--commit filter.
func (e statusEvent) matchesFilter() bool {
	if watchRepo != "" && e.RepoURL != watchRepo {
		return false
	}
	if watchCommit != "" && !strings.EqualFold(e.Commit, watchCommit) {
		return false
	}
	return true
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runWatch streams status transitions, as a live table on a terminal and as
// line output otherwise.
func runWatch(cmd *cobra.Command, args []string) {
	if watchCommit != "" && watchRepo == "" {
		fail("Usage", fmt.Errorf("--commit requires --repo"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := NewCatalogClient(resolveServerURL())
	wsURL, err := client.EventsURL()
	if err != nil {
		fail("Invalid server URL", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fail(fmt.Sprintf("Cannot reach the event stream at %s", wsURL), err)
	}
	defer conn.Close()

	connectedAt := time.Now()
	events := make(chan statusEvent, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		for {
			var ev statusEvent
			if err := conn.ReadJSON(&ev); err != nil {
				errs <- err
				return
			}
			if !ev.matchesFilter() {
				continue
			}
			// The server replays its retained backlog on connect; without
			// --replay only transitions after this session starts are shown.
			if !watchReplay && ev.At.Before(connectedAt) {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close the socket when the context ends so the reader goroutine and any
	// plain-mode loop unblock.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if jsonOutput || !isatty.IsTerminal(os.Stdout.Fd()) ||
		ux.GetPersonality().Level == ux.PersonalityMachine {
		streamPlain(ctx, events, errs)
		return
	}

	model := newWatchModel(client.BaseURL(), events, errs)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		fail("Watch failed", err)
	}
}

// streamPlain prints events one per line until the stream ends.
func streamPlain(ctx context.Context, events <-chan statusEvent, errs <-chan error) {
	encoder := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if ctx.Err() == nil {
				fail("Event stream closed", err)
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if jsonOutput {
				if err := encoder.Encode(ev); err != nil {
					fail("Encoding event", err)
				}
				continue
			}
			fmt.Printf("%s\t%s@%s\t%s\t%s->%s\tgen=%d\n",
				ev.At.Format(time.RFC3339), ev.RepoURL, shortCommit(ev.Commit),
				ev.Pipeline, ev.From, ev.To, ev.Generation)
		}
	}
}

// =============================================================================
// Bubbletea Model
// =============================================================================

// eventMsg delivers one stream event into the TUI loop.
type eventMsg statusEvent

// streamErrMsg reports the stream failing or closing.
type streamErrMsg struct{ err error }

// watchRow is the latest known transition per (project, pipeline).
type watchRow struct {
	repoURL  string
	commit   string
	pipeline string
	state    string
	gen      uint64
	at       time.Time
}

// watchModel renders the live status table.
type watchModel struct {
	server string
	table  table.Model
	rows   map[string]watchRow
	events <-chan statusEvent
	errs   <-chan error

	seen      int
	lastAt    time.Time
	streamErr error
	quitting  bool
}

var watchHelpStyle = lipgloss.NewStyle().Foreground(ux.ColorSlate)

func newWatchModel(server string, events <-chan statusEvent, errs <-chan error) *watchModel {
	columns := []table.Column{
		{Title: "Project", Width: 44},
		{Title: "Commit", Width: 12},
		{Title: "Pipeline", Width: 12},
		{Title: "State", Width: 10},
		{Title: "Gen", Width: 5},
		{Title: "When", Width: 10},
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ux.ColorInkDeep).
		BorderBottom(true).
		Bold(true).
		Foreground(ux.ColorInkBright)
	styles.Selected = styles.Selected.
		Foreground(ux.ColorInkBright).
		Background(ux.ColorArchive).
		Bold(false)

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(16),
		table.WithStyles(styles),
	)

	return &watchModel{
		server: server,
		table:  t,
		rows:   make(map[string]watchRow),
		events: events,
		errs:   errs,
	}
}

// waitForEvent blocks on the stream and wraps the outcome as a tea.Msg.
func (m *watchModel) waitForEvent() tea.Msg {
	select {
	case err := <-m.errs:
		return streamErrMsg{err: err}
	case ev, ok := <-m.events:
		if !ok {
			return streamErrMsg{err: nil}
		}
		return eventMsg(ev)
	}
}

// Init implements tea.Model.
func (m *watchModel) Init() tea.Cmd {
	return m.waitForEvent
}

// Update implements tea.Model.
func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(max(4, msg.Height-6))

	case eventMsg:
		ev := statusEvent(msg)
		m.seen++
		m.lastAt = ev.At
		key := ev.RepoURL + "\x00" + ev.Commit + "\x00" + ev.Pipeline
		m.rows[key] = watchRow{
			repoURL:  ev.RepoURL,
			commit:   ev.Commit,
			pipeline: ev.Pipeline,
			state:    ev.To,
			gen:      ev.Generation,
			at:       ev.At,
		}
		m.table.SetRows(m.tableRows())
		return m, m.waitForEvent

	case streamErrMsg:
		m.streamErr = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *watchModel) View() string {
	if m.quitting {
		if m.streamErr != nil {
			return ux.Styles.Error.Render(fmt.Sprintf("event stream closed: %v", m.streamErr)) + "\n"
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(ux.Styles.Title.Render("Theorem catalog activity"))
	b.WriteString(watchHelpStyle.Render(fmt.Sprintf("  %s", m.server)))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	status := fmt.Sprintf("%d events", m.seen)
	if !m.lastAt.IsZero() {
		status += fmt.Sprintf(", last %s", m.lastAt.Format("15:04:05"))
	}
	b.WriteString(watchHelpStyle.Render(status + "  (q to quit)"))
	b.WriteString("\n")
	return b.String()
}

// tableRows flattens the row map in a stable order, most recent first.
func (m *watchModel) tableRows() []table.Row {
	rows := make([]watchRow, 0, len(m.rows))
	for _, r := range m.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.After(rows[j].at)
		}
		if rows[i].repoURL != rows[j].repoURL {
			return rows[i].repoURL < rows[j].repoURL
		}
		return rows[i].pipeline < rows[j].pipeline
	})

	out := make([]table.Row, len(rows))
	for i, r := range rows {
		out[i] = table.Row{
			r.repoURL,
			shortCommit(r.commit),
			r.pipeline,
			ux.StateBadge(r.state),
			fmt.Sprintf("%d", r.gen),
			r.at.Format("15:04:05"),
		}
	}
	return out
}
