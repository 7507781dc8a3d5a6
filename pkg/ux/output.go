// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the formulate CLI.
package ux

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

var (
	plainMode bool
	plainOnce sync.Once
	plainMu   sync.RWMutex
)

// Plain reports whether output should skip all styling. Defaults on
// when stdout is not a terminal or NO_COLOR is set.
func Plain() bool {
	plainOnce.Do(func() {
		plainMu.Lock()
		defer plainMu.Unlock()
		if os.Getenv("NO_COLOR") != "" {
			plainMode = true
			return
		}
		plainMode = !isatty.IsTerminal(os.Stdout.Fd()) &&
			!isatty.IsCygwinTerminal(os.Stdout.Fd())
	})
	plainMu.RLock()
	defer plainMu.RUnlock()
	return plainMode
}

// SetPlain overrides autodetection. For --plain flags and tests.
func SetPlain(v bool) {
	plainOnce.Do(func() {})
	plainMu.Lock()
	plainMode = v
	plainMu.Unlock()
}

// Title prints a styled title.
func Title(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark.
func Success(text string) {
	if Plain() {
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Success.Render("✓"), Styles.Success.Render(text))
}

// Warning prints a warning message.
func Warning(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
}

// Error prints an error message.
func Error(text string) {
	if Plain() {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
}

// Info prints an informational message.
func Info(text string) {
	if Plain() {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Silent in plain mode.
func Muted(text string) {
	if Plain() {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints content in a rounded box with a title line.
func Box(title, content string) {
	if Plain() {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(72)
	fmt.Println(boxStyle.Render(Styles.Title.Render(title) + "\n" + content))
}
