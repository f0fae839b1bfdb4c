package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "validate-config"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestValidateConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	if err := os.WriteFile(path, []byte(`{
		"id": "proj_cli",
		"name": "CLI Test",
		"environment": "development",
		"owner": "dev@example.com",
		"agentConfig": {
			"project_id": "proj_cli",
			"primary": {
				"kind": "anthropic",
				"model": "claude-sonnet-4",
				"api_key_env": "ANTHROPIC_API_KEY"
			}
		}
	}`), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"validate-config", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate-config: %v", err)
	}
	if !strings.Contains(out.String(), "ok: proj_cli") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestValidateConfigRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`{"id": "proj_x"`), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := buildRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"validate-config", "--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a broken config file")
	}
}
