// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the theoremctl CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theorem library palette - manuscript ink and gold leaf
var (
	// Primary palette (brightest to darkest)
	ColorInkBright  = lipgloss.Color("#7986E8") // Bright ink - highlights
	ColorInkPrimary = lipgloss.Color("#5C6BC0") // Primary ink - main brand color
	ColorInkVibrant = lipgloss.Color("#4B59B0") // Vibrant ink - interactive elements
	ColorInkDeep    = lipgloss.Color("#3A479C") // Deep ink - borders, accents
	ColorInkNight   = lipgloss.Color("#2B3578") // Night ink - subtle accents

	// Dark palette (for backgrounds, muted elements)
	ColorArchive  = lipgloss.Color("#1A2040") // Archive blue - backgrounds
	ColorMidnight = lipgloss.Color("#141833") // Midnight - deep backgrounds
	ColorSlate    = lipgloss.Color("#4A5073") // Slate - muted text, borders
	ColorDarkest  = lipgloss.Color("#0E1126") // Darkest - near black

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#4CAF82") // Green for verified proofs
	ColorWarning = lipgloss.Color("#E8C252") // Gold leaf for warnings, pending work
	ColorError   = lipgloss.Color("#D9534F") // Crimson for failures
	ColorMuted   = lipgloss.Color("#4A5073") // Slate for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Box styles
	Box        lipgloss.Style
	InfoBox    lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusPending lipgloss.Style
}{
	// Text styles
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorInkBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorInkPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorInkBright).Bold(true),

	// Box styles
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorInkDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorInkPrimary).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	// Status indicators
	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusWarning: lipgloss.NewStyle().SetString("⚠").Foreground(ColorWarning),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
	StatusPending: lipgloss.NewStyle().SetString("○").Foreground(ColorSlate),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess   Icon = "✓"
	IconWarning   Icon = "⚠"
	IconError     Icon = "✗"
	IconPending   Icon = "○"
	IconArrow     Icon = "→"
	IconBullet    Icon = "•"
	IconQED       Icon = "∎"
	IconTurnstile Icon = "⊢"
	IconTherefore Icon = "∴"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess, IconQED:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconTurnstile:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// ValidityBadge renders a proof validity value (valid, invalid, pending,
// unknown) as a colored badge. Machine mode returns the raw value.
func ValidityBadge(validity string) string {
	if GetPersonality().Level == PersonalityMachine {
		return validity
	}
	switch validity {
	case "valid":
		return fmt.Sprintf("%s %s", IconQED.Render(), Styles.Success.Render(validity))
	case "invalid":
		return fmt.Sprintf("%s %s", IconError.Render(), Styles.Error.Render(validity))
	case "pending":
		return fmt.Sprintf("%s %s", IconPending.Render(), Styles.Warning.Render(validity))
	default:
		return fmt.Sprintf("%s %s", IconPending.Render(), Styles.Muted.Render(validity))
	}
}

// StateBadge renders a pipeline state (untested, queued, running, success,
// fail) as a colored badge. Machine mode returns the raw value.
func StateBadge(state string) string {
	if GetPersonality().Level == PersonalityMachine {
		return state
	}
	switch state {
	case "success":
		return Styles.Success.Render(state)
	case "fail":
		return Styles.Error.Render(state)
	case "running":
		return Styles.Highlight.Render(state)
	case "queued":
		return Styles.Warning.Render(state)
	default:
		return Styles.Muted.Render(state)
	}
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconError.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Println(text)
	default:
		fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(os.Stderr, "WARN %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.WarningBox.Width(60)
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// KeyValue prints an aligned key/value detail line
func KeyValue(key, value string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("%s\t%s\n", key, value)
	default:
		fmt.Printf("  %s %s\n", Styles.Muted.Render(fmt.Sprintf("%-14s", key)), value)
	}
}

// Summary prints a summary line with counts
func Summary(valid, invalid, total int) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("SUMMARY: valid=%d invalid=%d total=%d\n", valid, invalid, total)
	default:
		fmt.Printf("\n%s %s  %s %s  %s %s\n",
			Styles.Success.Render(fmt.Sprintf("%d", valid)), Styles.Muted.Render("valid"),
			Styles.Error.Render(fmt.Sprintf("%d", invalid)), Styles.Muted.Render("invalid"),
			Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
		)
	}
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if GetPersonality().Level == PersonalityMachine {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	empty := width - filled

	bar := Styles.Success.Render(repeatChar('█', filled)) +
		Styles.Muted.Render(repeatChar('░', empty))

	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = c
	}
	return string(result)
}
