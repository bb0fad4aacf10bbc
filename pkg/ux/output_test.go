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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	if p.Styled() {
		t.Error("Printer for a bytes.Buffer should not be styled")
	}
}

func TestNewPrinter_RegularFileIsPlain(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if NewPrinter(f).Styled() {
		t.Error("Printer for a regular file should not be styled")
	}
}

func TestNewPrinter_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if NewPrinter(os.Stdout).Styled() {
		t.Error("NO_COLOR should disable styling")
	}
}

func TestPrinter_Field_Aligns(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Field("Accuracy", "%.2f%%", 100.0)
	p.Field("Terminated", "%s", "timeout")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "  Accuracy:      100.00%" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if strings.Index(lines[0], "100") != strings.Index(lines[1], "timeout") {
		t.Errorf("values not aligned:\n%s", buf.String())
	}
}

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("Run %s", "r1")
	p.Expression("Definition", "Male and (hasChild some Thing)")
	p.Section("Reduced partial definitions")
	p.Item("%d. %s", 1, "Father")
	p.Note("combined with: %s", "Female")

	want := "Run r1\n" +
		"  Definition:    Male and (hasChild some Thing)\n" +
		"  Reduced partial definitions:\n" +
		"    1. Father\n" +
		"       combined with: Female\n"
	if buf.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), want)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("plain output contains escape sequences")
	}
}

func TestPrinter_Outcome(t *testing.T) {
	p := NewPlainPrinter(&bytes.Buffer{})
	if got := p.Outcome("partial_definitions", true); got != "partial_definitions" {
		t.Errorf("Outcome() = %q", got)
	}
	if got := p.Outcome("timeout", false); got != "timeout" {
		t.Errorf("Outcome() = %q", got)
	}
}
