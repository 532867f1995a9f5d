package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServiceConfigDefaults(t *testing.T) {
	t.Setenv("TRUSTGATE_HOME", t.TempDir())

	cfg, err := LoadServiceConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8370" {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.EvalWorkers != 4 || cfg.RetentionDays != 90 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadServiceConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "listen_addr: 0.0.0.0:9000\neval_interval: 6h\neval_workers: 8\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.Interval().Hours() != 6 {
		t.Fatalf("interval = %v", cfg.Interval())
	}
	if cfg.EvalWorkers != 8 || cfg.Log.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.RetentionDays != 90 {
		t.Fatalf("retention_days = %d, want default 90", cfg.RetentionDays)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"empty listen addr", func(c *ServiceConfig) { c.ListenAddr = "" }},
		{"bad interval", func(c *ServiceConfig) { c.EvalInterval = "daily" }},
		{"zero workers", func(c *ServiceConfig) { c.EvalWorkers = 0 }},
		{"zero retention", func(c *ServiceConfig) { c.RetentionDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"amount=42.5", "issue_type=damaged", "vip=true"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params["amount"] != 42.5 {
		t.Fatalf("amount = %v (%T)", params["amount"], params["amount"])
	}
	if params["issue_type"] != "damaged" || params["vip"] != true {
		t.Fatalf("params = %v", params)
	}

	if _, err := parseParams([]string{"noequals"}); err == nil {
		t.Fatal("expected error for malformed pair")
	}
}

func TestParseLogLevel(t *testing.T) {
	if lvl, err := parseLogLevel("info", "debug"); err != nil || lvl != slog.LevelDebug {
		t.Fatalf("override: %v %v", lvl, err)
	}
	if lvl, err := parseLogLevel("", ""); err != nil || lvl != slog.LevelInfo {
		t.Fatalf("default: %v %v", lvl, err)
	}
	if _, err := parseLogLevel("loud", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
