// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles the parcel CLI's human-readable output.
//
// A Printer colors its output only when writing to a terminal and NO_COLOR
// is unset; otherwise it writes the same text unstyled, so piped output and
// tests see plain lines.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title      lipgloss.Style
	Label      lipgloss.Style
	Expression lipgloss.Style
	Muted      lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
}{
	Title:      lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:      lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Expression: lipgloss.NewStyle().Bold(true),
	Muted:      lipgloss.NewStyle().Foreground(ColorSlate),
	Success:    lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:    lipgloss.NewStyle().Foreground(ColorWarning),
	Error:      lipgloss.NewStyle().Foreground(ColorError),
}

// labelWidth aligns Field values in one column.
const labelWidth = 14

// Printer writes labelled report lines.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer for w, styled when w is a color terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: colorEnabled(w)}
}

// NewPlainPrinter returns a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Styled reports whether output is colored.
func (p *Printer) Styled() bool { return p.styled }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// Title writes a heading line.
func (p *Printer) Title(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(Styles.Title, fmt.Sprintf(format, args...)))
}

// Field writes "  Label:  value" with values aligned.
func (p *Printer) Field(label, format string, args ...any) {
	padded := fmt.Sprintf("%-*s", labelWidth, label+":")
	fmt.Fprintf(p.w, "  %s %s\n", p.render(Styles.Label, padded), fmt.Sprintf(format, args...))
}

// Expression writes a labelled class expression in the expression style.
func (p *Printer) Expression(label, expr string) {
	p.Field(label, "%s", p.render(Styles.Expression, expr))
}

// Section writes an indented sub-heading.
func (p *Printer) Section(title string) {
	fmt.Fprintf(p.w, "  %s\n", p.render(Styles.Label, title+":"))
}

// Item writes an indented list line.
func (p *Printer) Item(format string, args ...any) {
	fmt.Fprintf(p.w, "    %s\n", fmt.Sprintf(format, args...))
}

// Note writes an indented muted line.
func (p *Printer) Note(format string, args ...any) {
	fmt.Fprintf(p.w, "       %s\n", p.render(Styles.Muted, fmt.Sprintf(format, args...)))
}

// Outcome renders a termination reason: green when the goal was reached,
// amber otherwise.
func (p *Printer) Outcome(reason string, success bool) string {
	if success {
		return p.render(Styles.Success, reason)
	}
	return p.render(Styles.Warning, reason)
}
