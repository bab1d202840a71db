package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesAllSections(t *testing.T) {
	p := writeConfig(t, `
agent:
  base_url: https://agent.example.com
  token: abc123
  timeout: 45s
  max_line_bytes: 2MB
storage:
  db_path: /tmp/ts-db
  state_dir: /tmp/ts-state
session:
  refresh_interval: 24h
  refresh_cron: "0 3 * * *"
logging:
  level: debug
  format: json
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.BaseURL != "https://agent.example.com" || cfg.Agent.Token != "abc123" {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Agent.Timeout.Duration() != 45*time.Second {
		t.Fatalf("timeout = %v", cfg.Agent.Timeout.Duration())
	}
	if cfg.Agent.MaxLineBytes.Int64() != 2*1000*1000 {
		t.Fatalf("max_line_bytes = %d", cfg.Agent.MaxLineBytes.Int64())
	}
	if cfg.Session.RefreshInterval.Duration() != 24*time.Hour || cfg.Session.RefreshCron != "0 3 * * *" {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestDurationAcceptsNumericSeconds(t *testing.T) {
	p := writeConfig(t, "agent:\n  timeout: 30\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Timeout.Duration() != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Agent.Timeout.Duration())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THREADSYNC_BASE_URL", "http://env.example.com")
	t.Setenv("THREADSYNC_TOKEN", "envtok")
	t.Setenv("THREADSYNC_DB_PATH", "/env/db")
	t.Setenv("THREADSYNC_REFRESH_INTERVAL", "12h")
	t.Setenv("THREADSYNC_LOG_LEVEL", "warn")

	cfg := &Config{}
	cfg.Agent.BaseURL = "http://file.example.com"
	if !ApplyEnvOverrides(cfg) {
		t.Fatalf("env not detected")
	}
	if cfg.Agent.BaseURL != "http://env.example.com" {
		t.Fatalf("env must win over file: %q", cfg.Agent.BaseURL)
	}
	if cfg.Agent.Token != "envtok" || cfg.Storage.DBPath != "/env/db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Session.RefreshInterval.Duration() != 12*time.Hour {
		t.Fatalf("interval = %v", cfg.Session.RefreshInterval.Duration())
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if cfg.Agent.BaseURL != DefaultBaseURL || cfg.Storage.DBPath != DefaultDBPath {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Storage.StateDir != filepath.Join(DefaultDBPath, "state") {
		t.Fatalf("state dir = %q", cfg.Storage.StateDir)
	}
	if cfg.Agent.MaxLineBytes.Int64() != DefaultMaxLineBytes {
		t.Fatalf("max line bytes = %d", cfg.Agent.MaxLineBytes.Int64())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadFormat(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bad format accepted")
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/flag.yaml", true); got != "/flag.yaml" {
		t.Fatalf("flag path ignored: %q", got)
	}
	t.Setenv("THREADSYNC_CONFIG", "/env.yaml")
	if got := ResolveConfigPath("/default.yaml", false); got != "/env.yaml" {
		t.Fatalf("env path ignored: %q", got)
	}
}
