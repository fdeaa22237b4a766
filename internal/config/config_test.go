package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
dir            = "/var/lib/threatline"
retention_days = 7

[rules]
dir = "rules"

[analysis]
mitre    = true
timeline = false

[server]
port = 9000

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.Dir != "/var/lib/threatline" {
		t.Errorf("storage.dir = %q", cfg.Storage.Dir)
	}
	if cfg.Storage.RetentionDays != 7 {
		t.Errorf("retention_days = %d, want 7", cfg.Storage.RetentionDays)
	}
	if cfg.Rules.Dir != "rules" {
		t.Errorf("rules.dir = %q", cfg.Rules.Dir)
	}
	if !cfg.Analysis.MITRE {
		t.Error("analysis.mitre should be enabled")
	}
	if cfg.Analysis.Timeline {
		t.Error("analysis.timeline should be disabled")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := Default()
	if cfg.Storage.Dir != def.Storage.Dir {
		t.Errorf("storage.dir = %q, want default %q", cfg.Storage.Dir, def.Storage.Dir)
	}
	if cfg.Storage.RetentionDays != def.Storage.RetentionDays {
		t.Errorf("retention_days = %d, want %d", cfg.Storage.RetentionDays, def.Storage.RetentionDays)
	}
	if !cfg.Analysis.MITRE || !cfg.Analysis.Timeline {
		t.Error("optional phases should default to enabled")
	}
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("server.port = %d, want %d", cfg.Server.Port, def.Server.Port)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
dir = "evidence"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Dir != "evidence" {
		t.Errorf("storage.dir = %q", cfg.Storage.Dir)
	}
	if cfg.Storage.RetentionDays != 30 {
		t.Errorf("retention_days = %d, want default 30", cfg.Storage.RetentionDays)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want default info", cfg.Log.Level)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `[storage`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeTestConfig(t, `
[log]
level = "verbose"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported log level")
	}
}

func TestLoad_LogLevelNormalized(t *testing.T) {
	path := writeTestConfig(t, `
[log]
level = "WARN"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want normalized warn", cfg.Log.Level)
	}
}

func TestLoad_NegativeRetention(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
dir            = "data"
retention_days = -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative retention_days")
	}
}

func TestLoad_PortOutOfRange(t *testing.T) {
	path := writeTestConfig(t, `
[server]
port = 70000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, `
[storage]
dir = "from-file"
`)

	t.Setenv("THREATLINE_STORAGE_DIR", "from-env")
	t.Setenv("THREATLINE_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.Dir != "from-env" {
		t.Errorf("storage.dir = %q, want env override", cfg.Storage.Dir)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %q, want error", cfg.Log.Level)
	}
}
