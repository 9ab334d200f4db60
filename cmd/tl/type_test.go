package main

import (
	"strings"
	"testing"
)

func TestTypeCmd_Help(t *testing.T) {
	out, err := runCLI(t, "type", "--help")
	if err != nil {
		t.Fatalf("type --help failed: %v", err)
	}
	for _, sub := range []string{"create", "list", "field-add", "status-add"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestTypeCreateListFieldStatus_EndToEnd(t *testing.T) {
	configPath := writeTestConfig(t)
	if _, err := runCLI(t, "db", "init", "-c", configPath); err != nil {
		t.Fatalf("db init failed: %v", err)
	}

	out, err := runCLI(t, "type", "create", "-c", configPath, "--name", "record")
	if err != nil {
		t.Fatalf("type create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Created type") {
		t.Fatalf("create output = %s", out)
	}

	if _, err := runCLI(t, "type", "create", "-c", configPath, "--name", "record"); err == nil {
		t.Error("expected duplicate type name to fail")
	}

	out, err = runCLI(t, "type", "field-add", "-c", configPath,
		"--type", "2", "--name", "severity", "--field-type", "enum", "--options", "low,high")
	if err != nil {
		t.Fatalf("field-add failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Added field severity (enum)") {
		t.Errorf("field-add output = %s", out)
	}

	out, err = runCLI(t, "type", "status-add", "-c", configPath,
		"--type", "2", "--name", "new", "--initial")
	if err != nil {
		t.Fatalf("status-add failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "to type 2") {
		t.Errorf("status-add output = %s", out)
	}

	out, err = runCLI(t, "type", "list", "-c", configPath)
	if err != nil {
		t.Fatalf("type list failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ticket") || !strings.Contains(out, "record") {
		t.Errorf("list output = %s", out)
	}
}

func TestTypeFieldAdd_RejectsUnknownFieldType(t *testing.T) {
	configPath := writeTestConfig(t)
	if _, err := runCLI(t, "db", "init", "-c", configPath); err != nil {
		t.Fatalf("db init failed: %v", err)
	}
	if _, err := runCLI(t, "type", "field-add", "-c", configPath,
		"--type", "1", "--name", "x", "--field-type", "blob"); err == nil {
		t.Error("expected unknown field type to be rejected")
	}
	if _, err := runCLI(t, "type", "field-add", "-c", configPath,
		"--type", "1", "--name", "x", "--field-type", "enum"); err == nil {
		t.Error("expected enum without options to be rejected")
	}
}
