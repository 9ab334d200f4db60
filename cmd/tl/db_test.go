package main

import (
	"strings"
	"testing"
)

func TestDBCmd_Help(t *testing.T) {
	out, err := runCLI(t, "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	for _, sub := range []string{"init", "reset"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestDBInit_SQLite(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCLI(t, "db", "init", "-c", configPath)
	if err != nil {
		t.Fatalf("db init failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Loaded config for organization \"acme\"", "Migrated", "Seeded 1 types: ticket"} {
		if !strings.Contains(out, want) {
			t.Errorf("init output missing %q:\n%s", want, out)
		}
	}

	// Re-running init is idempotent.
	if out, err = runCLI(t, "db", "init", "-c", configPath); err != nil {
		t.Fatalf("second db init failed: %v\n%s", err, out)
	}
}

func TestDBReset_RequiresForce(t *testing.T) {
	configPath := writeTestConfig(t)
	if _, err := runCLI(t, "db", "reset", "-c", configPath); err == nil {
		t.Error("expected error without --force")
	}
}

func TestDBReset_WipesData(t *testing.T) {
	configPath := writeTestConfig(t)
	if _, err := runCLI(t, "db", "init", "-c", configPath); err != nil {
		t.Fatalf("db init failed: %v", err)
	}
	if _, err := runCLI(t, "item", "create", "-c", configPath,
		"--type", "1", "--subject", "Doomed", "--user", "u-lee"); err != nil {
		t.Fatalf("item create failed: %v", err)
	}

	out, err := runCLI(t, "db", "reset", "-c", configPath, "--force")
	if err != nil {
		t.Fatalf("db reset failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Removed") {
		t.Errorf("reset output = %s", out)
	}

	out, err = runCLI(t, "item", "list", "-c", configPath)
	if err != nil {
		t.Fatalf("item list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No items found.") {
		t.Errorf("list after reset = %s", out)
	}
}
