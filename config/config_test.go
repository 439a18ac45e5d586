package config

import (
	"os"
	"path/filepath"
	"testing"

	"bountyvault/native/escrow"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8681" || cfg.Token != "BVT" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ParsedRefundMode() != escrow.RefundAnyone {
		t.Fatalf("default refund mode: got %s", cfg.ParsedRefundMode())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
ListenAddress = ":9000"
DataDir = "/var/lib/bountyd"
Token = "usd"
RefundMode = "depositor-only"
Environment = "staging"

[Telemetry]
Endpoint = "collector:4318"
Insecure = true
Traces = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("ListenAddress: %q", cfg.ListenAddress)
	}
	// Unset fields keep their defaults.
	if cfg.MetricsAddress != ":9187" {
		t.Fatalf("MetricsAddress: %q", cfg.MetricsAddress)
	}
	if cfg.ParsedRefundMode() != escrow.RefundDepositorOnly {
		t.Fatalf("refund mode: %s", cfg.ParsedRefundMode())
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("telemetry: %+v", cfg.Telemetry)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = " " }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"blank token", func(c *Config) { c.Token = "  " }},
		{"unknown refund mode", func(c *Config) { c.RefundMode = "admin-only" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ListenAddress = [broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
