package main

import (
	"strings"
	"testing"
)

func TestServeCmd_Help(t *testing.T) {
	out, err := runCLI(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help failed: %v", err)
	}
	if !strings.Contains(out, "API server") {
		t.Errorf("expected help to mention 'API server', got: %s", out)
	}
	for _, flag := range []string{"--port", "--config"} {
		if !strings.Contains(out, flag) {
			t.Errorf("expected %s flag, got: %s", flag, out)
		}
	}
}

func TestNewServeCmd_Defaults(t *testing.T) {
	cmd := newServeCmd()
	if cmd.Flags().Lookup("port").DefValue != "8080" {
		t.Errorf("--port default = %q, want 8080", cmd.Flags().Lookup("port").DefValue)
	}
}
