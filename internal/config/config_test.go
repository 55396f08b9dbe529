package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `{
		"db_path": "conductor.db",
		"workspace": "/tmp/workers",
		"judge": {"command": "judge-cli", "args": ["--model", "fast"]},
		"agent": {"command": "agent-cli"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "conductor.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if len(cfg.Judge.Args) != 2 {
		t.Errorf("Judge.Args = %v", cfg.Judge.Args)
	}

	// Defaults.
	if cfg.ListenAddr != ":9810" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.SpawnTries != 3 {
		t.Errorf("SpawnTries = %d", cfg.SpawnTries)
	}
	if cfg.RetentionMinutes != 15 {
		t.Errorf("RetentionMinutes = %d", cfg.RetentionMinutes)
	}
	if cfg.Judge.TimeoutSec != 120 {
		t.Errorf("Judge.TimeoutSec = %d", cfg.Judge.TimeoutSec)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `{"listen_addr": ":9999"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_BadJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"db_path": "x.db",
		"workspace": "/w",
		"judge": {"command": "j", "timeout_sec": 30},
		"agent": {"command": "a"},
		"listen_addr": ":7000",
		"max_retries": 5
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7000" || cfg.MaxRetries != 5 || cfg.Judge.TimeoutSec != 30 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}
