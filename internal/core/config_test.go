package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// --- Helper ---

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// --- LoadConfig tests ---

func TestLoadConfig_Defaults_WhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	cfg, err := cm.LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Scanner.Interval != 15*time.Minute {
		t.Errorf("Scanner.Interval = %s, want 15m", cfg.Scanner.Interval)
	}
	if cfg.Scanner.InitialDelay != 5*time.Second {
		t.Errorf("Scanner.InitialDelay = %s, want 5s", cfg.Scanner.InitialDelay)
	}
	if cfg.Scanner.Window != 24*time.Hour {
		t.Errorf("Scanner.Window = %s, want 24h", cfg.Scanner.Window)
	}
	if cfg.Delivery.AgentTimeout != 3*time.Second {
		t.Errorf("Delivery.AgentTimeout = %s, want 3s", cfg.Delivery.AgentTimeout)
	}
	if cfg.Capability.Mode != "prompt" {
		t.Errorf("Capability.Mode = %q, want prompt", cfg.Capability.Mode)
	}
	if !strings.HasPrefix(cfg.Queue.DSN, "file://") {
		t.Errorf("Queue.DSN = %q, want file:// default", cfg.Queue.DSN)
	}
	if cfg.Due.File != filepath.Join(dir, "due.yaml") {
		t.Errorf("Due.File = %q, want under base dir", cfg.Due.File)
	}
	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".duealert.yaml", `
scanner:
  interval: 5m
  window: 48h
delivery:
  banner_expiry_medium: 20s
capability:
  mode: DENIED
  file: caps.yaml
queue:
  dsn: sqlite://queue.db
  max_attempts_warn: 3
backend:
  url: https://api.example.com/actions
log:
  level: debug
  format: json
`)

	cm := NewConfigurationManager(dir)
	cfg, err := cm.LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Scanner.Interval != 5*time.Minute || cfg.Scanner.Window != 48*time.Hour {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	if cfg.Scanner.InitialDelay != 5*time.Second {
		t.Errorf("unset InitialDelay = %s, want default 5s", cfg.Scanner.InitialDelay)
	}
	if cfg.Delivery.BannerExpiryMedium != 20*time.Second {
		t.Errorf("BannerExpiryMedium = %s, want 20s", cfg.Delivery.BannerExpiryMedium)
	}
	if cfg.Capability.Mode != "denied" {
		t.Errorf("Capability.Mode = %q, want denied", cfg.Capability.Mode)
	}
	if cfg.Capability.File != filepath.Join(dir, "caps.yaml") {
		t.Errorf("Capability.File = %q, want resolved against base dir", cfg.Capability.File)
	}
	if cfg.Queue.DSN != "sqlite://queue.db" || cfg.Queue.MaxAttemptsWarn != 3 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("ValidateConfig: %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DUEALERT_QUEUE_DSN", "memory://")
	t.Setenv("DUEALERT_LOG_LEVEL", "warn")

	cfg, err := NewConfigurationManager(dir).LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.DSN != "memory://" {
		t.Errorf("Queue.DSN = %q, want memory://", cfg.Queue.DSN)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".duealert.yaml", "scanner: [unclosed\n")

	if _, err := NewConfigurationManager(dir).LoadConfig(); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

// --- ValidateConfig tests ---

func TestValidateConfig_Nil(t *testing.T) {
	if err := NewConfigurationManager(t.TempDir()).ValidateConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigurationManager(dir)

	tests := []struct {
		name    string
		mutate  func(c *models.Config)
		wantSub string
	}{
		{"zero interval", func(c *models.Config) { c.Scanner.Interval = 0 }, "scanner.interval"},
		{"negative delay", func(c *models.Config) { c.Scanner.InitialDelay = -time.Second }, "scanner.initial_delay"},
		{"bad capability mode", func(c *models.Config) { c.Capability.Mode = "maybe" }, "capability.mode"},
		{"empty dsn", func(c *models.Config) { c.Queue.DSN = "" }, "queue.dsn"},
		{"unknown dsn scheme", func(c *models.Config) { c.Queue.DSN = "mysql://x" }, "queue.dsn scheme"},
		{"backend not http", func(c *models.Config) { c.Backend.URL = "ftp://x" }, "backend.url"},
		{"agent not ws", func(c *models.Config) { c.Agent.URL = "http://x" }, "agent.url"},
		{"bad log level", func(c *models.Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *models.Config) { c.Log.Format = "xml" }, "log.format"},
		{"probe without interval", func(c *models.Config) {
			c.Network.ProbeAddr = "1.1.1.1:53"
			c.Network.ProbeInterval = 0
		}, "network.probe_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(dir)
			tt.mutate(cfg)
			err := cm.ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateConfig_AggregatesAllProblems(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Scanner.Interval = 0
	cfg.Log.Level = "loud"
	cfg.Capability.Mode = "ask"

	err := NewConfigurationManager(dir).ValidateConfig(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 3 {
		t.Errorf("problems reported = %d, want 3:\n%v", n, err)
	}
}
