package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"WORKSPACE_ENDPOINT", "WORKSPACE_ID", "WORKSPACE_FILE", "WORKSPACE_DEBOUNCE_MS"} {
		t.Setenv(key, "")
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.toml", `
endpoint = "http://localhost:8787"
workspace_id = "ws-1"
file = "doc.json"
debounce_ms = 150
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Endpoint != "http://localhost:8787" {
		t.Errorf("wrong endpoint: %s", cfg.Endpoint)
	}
	if cfg.WorkspaceID != "ws-1" {
		t.Errorf("wrong workspace: %s", cfg.WorkspaceID)
	}
	if cfg.DebounceMs != 150 {
		t.Errorf("wrong debounce: %d", cfg.DebounceMs)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
endpoint: http://localhost:8787
workspace_id: ws-2
file: doc.json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WorkspaceID != "ws-2" {
		t.Errorf("wrong workspace: %s", cfg.WorkspaceID)
	}
	if cfg.DebounceMs != 300 {
		t.Errorf("default debounce not applied: %d", cfg.DebounceMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.toml", `
endpoint = "http://file-endpoint"
workspace_id = "file-ws"
file = "doc.json"
`)
	t.Setenv("WORKSPACE_ENDPOINT", "http://env-endpoint")
	t.Setenv("WORKSPACE_DEBOUNCE_MS", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Endpoint != "http://env-endpoint" {
		t.Errorf("env endpoint override ignored: %s", cfg.Endpoint)
	}
	if cfg.WorkspaceID != "file-ws" {
		t.Errorf("file value clobbered without override: %s", cfg.WorkspaceID)
	}
	if cfg.DebounceMs != 42 {
		t.Errorf("env debounce override ignored: %d", cfg.DebounceMs)
	}
}

func TestValidateRejectsIncomplete(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing endpoint", Config{WorkspaceID: "w", File: "f", DebounceMs: 1}, "endpoint"},
		{"missing workspace", Config{Endpoint: "e", File: "f", DebounceMs: 1}, "workspace_id"},
		{"missing file", Config{Endpoint: "e", WorkspaceID: "w", DebounceMs: 1}, "file"},
		{"bad debounce", Config{Endpoint: "e", WorkspaceID: "w", File: "f", DebounceMs: 0}, "debounce_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)

	orig := &Config{
		Endpoint:    "http://localhost:8787",
		WorkspaceID: "ws-3",
		File:        "doc.json",
		DebounceMs:  300,
	}
	if err := orig.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *cfg != *orig {
		t.Errorf("round trip mismatch: %+v != %+v", cfg, orig)
	}
}

func TestResolveFile(t *testing.T) {
	cfg := &Config{File: "doc.json"}
	got := cfg.ResolveFile(filepath.Join("/proj", ".workspace", "config.toml"))
	if got != filepath.Join("/proj", "doc.json") {
		t.Errorf("relative resolution wrong: %s", got)
	}

	cfg.File = "/abs/doc.json"
	if got := cfg.ResolveFile("/proj/.workspace/config.toml"); got != "/abs/doc.json" {
		t.Errorf("absolute path not preserved: %s", got)
	}
}
