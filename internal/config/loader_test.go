package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != "8090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Worker.MaxSlots != 4 {
		t.Errorf("max_slots = %d", cfg.Worker.MaxSlots)
	}
	if cfg.Worker.Ledger != "postgres" {
		t.Errorf("ledger = %q", cfg.Worker.Ledger)
	}
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	yaml := `
server:
  port: "9999"
worker:
  max_slots: 8
  ledger: memory
  default_timeout: 10m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Worker.MaxSlots != 8 {
		t.Errorf("max_slots = %d", cfg.Worker.MaxSlots)
	}
	if cfg.Worker.DefaultTimeout != 10*time.Minute {
		t.Errorf("default_timeout = %v", cfg.Worker.DefaultTimeout)
	}
	// Untouched keys keep defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	if err := os.WriteFile(path, []byte("worker:\n  max_slots: 8\n  ledger: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORCHESTRATOR_MAX_SLOTS", "2")
	t.Setenv("ORCHESTRATOR_WORKER_ID", "worker-env")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Worker.MaxSlots != 2 {
		t.Errorf("max_slots = %d", cfg.Worker.MaxSlots)
	}
	if cfg.Worker.ID != "worker-env" {
		t.Errorf("worker id = %q", cfg.Worker.ID)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"zero slots", func(c *Config) { c.Worker.MaxSlots = 0 }},
		{"unknown ledger", func(c *Config) { c.Worker.Ledger = "etcd" }},
		{"postgres without dsn", func(c *Config) { c.Postgres.DSN = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDurationEnvParsing(t *testing.T) {
	t.Setenv("ORCHESTRATOR_SHUTDOWN_GRACE", "90s")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Worker.ShutdownGrace != 90*time.Second {
		t.Errorf("shutdown_grace = %v", cfg.Worker.ShutdownGrace)
	}
}
