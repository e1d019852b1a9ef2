package deps_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"evalplane/internal/deps"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeScript(t, binDir, "present", "exit 0")
	versioned := writeScript(t, binDir, "versioned", "echo\necho 'lighteval 0.8.1'")
	broken := writeScript(t, binDir, "broken", "exit 2")

	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Versioned", Command: versioned, VersionArgs: []string{"--version"}},
		{Name: "Broken", Command: broken, VersionArgs: []string{"--version"}},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := deps.CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" || results[0].Path != present {
		t.Fatalf("unexpected present status: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail: %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Version != "lighteval 0.8.1" {
		t.Fatalf("unexpected version %q", results[2].Version)
	}
	if !results[3].Available || results[3].Version != "" || results[3].Detail == "" {
		t.Fatalf("expected failed probe to keep binary available: %#v", results[3])
	}
	if results[4].Available || results[4].Detail != "command not configured" {
		t.Fatalf("unexpected unset status: %#v", results[4])
	}

	missing := deps.MissingRequired(results)
	if len(missing) != 1 || missing[0] != "Missing" {
		t.Fatalf("unexpected missing list: %v", missing)
	}
}
