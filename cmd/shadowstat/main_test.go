package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestFdrCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "absent.yaml")
	out := execute(t, "--config", cfgPath, "fdr", "--alpha", "0.05", "0.01", "0.04", "0.03", "0.2")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected header and 4 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "0.04") || !strings.HasSuffix(lines[1], "true") {
		t.Errorf("Unexpected first row: %q", lines[1])
	}
	if !strings.HasSuffix(lines[4], "false") {
		t.Errorf("Expected last p-value not rejected: %q", lines[4])
	}
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "shadowstat.yaml")
	execute(t, "config", "init", path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file: %v", err)
	}
}
