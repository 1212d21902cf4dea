package main

import (
	"bytes"
	"strings"
	"testing"
)

// TestVersionInfo tests that every build field has a fallback.
func TestVersionInfo(t *testing.T) {
	t.Parallel()

	for name, got := range map[string]string{
		"version": getVersion(),
		"commit":  getCommit(),
		"date":    getDate(),
	} {
		if got == "" {
			t.Errorf("%s is empty", name)
		}
	}
	if len(getCommit()) > 7 && getCommit() != commit {
		t.Errorf("commit %q is not shortened", getCommit())
	}
}

// TestNewVersionCmd tests the version command output.
func TestNewVersionCmd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"jscryptoscan version", "commit:", "built:", "go:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got %q", want, output)
		}
	}
}

// TestVersionCmdRejectsArgs tests that version takes no arguments.
func TestVersionCmdRejectsArgs(t *testing.T) {
	t.Parallel()

	cmd := NewVersionCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for extra arguments")
	}
}
