package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpalmerr/cartrush"
)

// executeCmd runs the root command with args and returns captured stdout
// and any error.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cartrush.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestRunValidate_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8181
target:
  url: https://www.reserveamerica.com/explore/x/NY/140/245719/campsite-booking
  arrival_date: 2026-05-17
  nights: 2
credentials:
  source: file
`)

	output, err := executeCmd(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"Port:        8181",
		"Target:      NY/140/245719 2026-05-17 x2",
		"Credentials: file",
		"Stats:       disabled",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_NoTarget(t *testing.T) {
	configPath := writeConfig(t, "server:\n  port: 8080\n")

	output, err := executeCmd(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}
	if !strings.Contains(output, "start sessions over HTTP") {
		t.Errorf("output should note the missing target, got: %s", output)
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	configPath := writeConfig(t, `
credentials:
  source: keychain
`)

	_, err := executeCmd(t, "validate", "-c", configPath)
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "credentials.source") {
		t.Errorf("error should mention 'credentials.source', got: %v", err)
	}
}

func TestRunValidate_InvalidTarget(t *testing.T) {
	configPath := writeConfig(t, `
target:
  facility_id: "140"
  site_id: "245719"
  arrival_date: tomorrow
  nights: 1
`)

	_, err := executeCmd(t, "validate", "-c", configPath)
	if err == nil {
		t.Fatal("validate command expected error for invalid target, got nil")
	}
	if !strings.Contains(err.Error(), "arrival date") {
		t.Errorf("error should mention the arrival date, got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeCmd(t, "validate", "-c", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}

func TestVersion(t *testing.T) {
	output, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(output, "cartrush dev") {
		t.Errorf("output = %q, want version line", output)
	}
}

func TestExitFor(t *testing.T) {
	tests := []struct {
		state string
		code  int
	}{
		{"success", -1},
		{"error", exitRejected},
		{"stopped", exitStopped},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			err := exitFor(statusWithState(tt.state))
			if tt.code < 0 {
				if err != nil {
					t.Errorf("exitFor() = %v, want nil", err)
				}
				return
			}
			ee, ok := err.(*exitError)
			if !ok {
				t.Fatalf("exitFor() = %T, want *exitError", err)
			}
			if ee.code != tt.code {
				t.Errorf("code = %d, want %d", ee.code, tt.code)
			}
		})
	}
}

func statusWithState(s string) cartrush.Status {
	return cartrush.Status{State: cartrush.State(s)}
}
