package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
server:
  base_url: "https://api.example.com"
transport:
  reconnect_base: "2s"
  max_attempts: 3
feed:
  window: 25
routing:
  persist_dedup: true
refresh:
  schedule: "@every 2m"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: "file"
  path: "./store"
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL != "https://api.example.com" {
		t.Fatalf("base url not parsed: %q", cfg.Server.BaseURL)
	}
	if cfg.Transport.MaxAttempts != 3 || cfg.Feed.Window != 25 {
		t.Fatalf("numeric fields not parsed: %+v", cfg)
	}
	if d, _ := ParseDurationField("transport.reconnect_base", cfg.Transport.ReconnectBase); d != 2*time.Second {
		t.Fatalf("duration field not parsed: %v", d)
	}
	if m.Get() != cfg {
		t.Fatalf("load must commit the config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
server:
  base_url: "https://api.example.com"
transprot:
  max_attempts: 3
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("typo'd section must be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Server: ServerConfig{BaseURL: "https://api.example.com"}}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Server.BaseURL = "" }},
		{"http websocket url", func(c *Config) { c.Server.WebsocketURL = "https://api.example.com/ws" }},
		{"bad duration", func(c *Config) { c.Transport.ReconnectBase = "three seconds" }},
		{"negative attempts", func(c *Config) { c.Transport.MaxAttempts = -1 }},
		{"bad cron", func(c *Config) { c.Refresh.Schedule = "every day maybe" }},
		{"bad storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("minimal config must validate: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("empty must yield default, got %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 7*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("explicit value must win, got %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatalf("negative durations must be rejected")
	}
}
