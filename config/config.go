package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"bountyvault/native/escrow"
)

// Telemetry configures the optional OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Config is the daemon configuration loaded from a TOML file.
type Config struct {
	ListenAddress  string    `toml:"ListenAddress"`
	MetricsAddress string    `toml:"MetricsAddress"`
	DataDir        string    `toml:"DataDir"`
	Token          string    `toml:"Token"`
	RefundMode     string    `toml:"RefundMode"`
	Environment    string    `toml:"Environment"`
	Telemetry      Telemetry `toml:"Telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddress:  ":8681",
		MetricsAddress: ":9187",
		DataDir:        "./data",
		Token:          "BVT",
		RefundMode:     escrow.RefundAnyone.String(),
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values for obvious misconfiguration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if _, err := escrow.NormalizeToken(c.Token); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := escrow.ParseRefundMode(c.RefundMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParsedRefundMode returns the refund mode the configuration selects.
func (c *Config) ParsedRefundMode() escrow.RefundMode {
	mode, err := escrow.ParseRefundMode(c.RefundMode)
	if err != nil {
		return escrow.RefundAnyone
	}
	return mode
}
