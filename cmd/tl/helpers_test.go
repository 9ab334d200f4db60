package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseFieldFlags(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{
			name:  "two pairs",
			pairs: []string{"severity=high", "notes=all clear"},
			want:  map[string]string{"severity": "high", "notes": "all clear"},
		},
		{
			name:  "value with equals",
			pairs: []string{"formula=a=b"},
			want:  map[string]string{"formula": "a=b"},
		},
		{name: "missing separator", pairs: []string{"severity"}, wantErr: true},
		{name: "empty name", pairs: []string{"=high"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFieldFlags(tt.pairs)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFieldFlags(%v) succeeded, want error", tt.pairs)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFieldFlags(%v): %v", tt.pairs, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFieldFlags(%v) = %v, want %v", tt.pairs, got, tt.want)
			}
		})
	}
}

func TestResolveUser(t *testing.T) {
	if got := resolveUser("u-explicit"); got != "u-explicit" {
		t.Errorf("flag user = %q", got)
	}

	t.Setenv("TRELLIS_USER", "u-env")
	if got := resolveUser(""); got != "u-env" {
		t.Errorf("env user = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("this is a longer subject", 10); got != "this is..." {
		t.Errorf("truncate long = %q", got)
	}
	if got := truncate("exactly ten", 11); got != "exactly ten" {
		t.Errorf("truncate boundary = %q", got)
	}
}

func TestConnectFromConfig_SQLite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "trellis.yaml")
	yaml := "organization: acme\ndatabase:\n  driver: sqlite\n  path: " + filepath.Join(dir, "trellis.db") + "\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		t.Fatalf("connectFromConfig: %v", err)
	}
	if cfg.Organization != "acme" {
		t.Errorf("organization = %q", cfg.Organization)
	}
	if gormDB == nil {
		t.Fatal("nil db")
	}
}

func TestConnectFromConfig_MissingFile(t *testing.T) {
	if _, _, err := connectFromConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}
