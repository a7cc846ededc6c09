// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, best configuration
	ColorTealPrimary = lipgloss.Color("#20B9B4") // titles
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Table cells
	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Header: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:   lipgloss.NewStyle().Padding(0, 1),
	Border: lipgloss.NewStyle().Foreground(ColorTealDeep),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSkipped Icon = "↷"
	IconArrow   Icon = "→"
)

// Render returns the icon with its style.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending, IconSkipped:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes status lines in the style of its Mode.
//
// In ModeMachine every line starts with an upper-case tag (OK, WARN,
// ERROR) so scripts can grep for it; titles and muted text are dropped.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer on w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the output mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a styled heading.
func (p *Printer) Title(text string) {
	switch p.mode {
	case ModeMachine:
		return
	case ModePlain:
		fmt.Fprintf(p.w, "== %s ==\n", text)
	default:
		fmt.Fprintln(p.w, Styles.Title.Render(text))
	}
}

// Success prints a line with a check mark.
func (p *Printer) Success(format string, args ...any) {
	p.status("OK", IconSuccess, Styles.Success, fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.status("WARN", IconWarning, Styles.Warning, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.status("ERROR", IconError, Styles.Error, fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if p.mode == ModeRich {
		fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
		return
	}
	fmt.Fprintln(p.w, text)
}

// Muted prints secondary text. Dropped in machine mode.
func (p *Printer) Muted(format string, args ...any) {
	switch p.mode {
	case ModeMachine:
		return
	case ModePlain:
		fmt.Fprintf(p.w, format+"\n", args...)
	default:
		fmt.Fprintln(p.w, Styles.Muted.Render(fmt.Sprintf(format, args...)))
	}
}

// Print writes pre-rendered text followed by a newline.
func (p *Printer) Print(text string) {
	fmt.Fprintln(p.w, text)
}

func (p *Printer) status(tag string, icon Icon, style lipgloss.Style, text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
	case ModePlain:
		fmt.Fprintf(p.w, "%s %s\n", icon, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
	}
}
