// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from config.yaml.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Relay    RelayConfig    `yaml:"relay"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// GatewayConfig holds settings for one gateway process.
type GatewayConfig struct {
	ID            string `yaml:"id"`              // stable gateway identity; generated if empty
	Port          int    `yaml:"port"`            // HTTP listen port
	LeaseTTLMs    int    `yaml:"lease_ttl_ms"`    // session lease duration
	RenewDivisor  int    `yaml:"renew_divisor"`   // renew at TTL/divisor
	SweepInterval string `yaml:"sweep_interval"`  // cron @every spec for background sweeps
}

// DatabaseConfig selects and parameterizes the backing store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
}

// AgentsConfig controls agent kind selection and binary locations.
type AgentsConfig struct {
	Default   string            `yaml:"default"`   // preferred agent kind
	Fallbacks []string          `yaml:"fallbacks"` // ordered fallback kinds
	Binaries  map[string]string `yaml:"binaries"`  // kind -> binary override
	GraceSecs int               `yaml:"grace_secs"` // stop grace period before SIGKILL
}

// WorkflowConfig controls awaiting-input behavior.
type WorkflowConfig struct {
	DefaultInputTimeoutMin int `yaml:"default_input_timeout_min"`
}

// RelayConfig controls the terminal relay.
type RelayConfig struct {
	SnapshotBytes int `yaml:"snapshot_bytes"` // ring buffer capacity per channel
}

// NotifyConfig holds optional chat notification settings. Empty tokens
// disable the corresponding adapter.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied, for running without a
// config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LeaseTTL returns the lease duration as a time.Duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Gateway.LeaseTTLMs) * time.Millisecond
}

// RenewInterval returns how often the owning gateway renews its leases.
func (c *Config) RenewInterval() time.Duration {
	return c.LeaseTTL() / time.Duration(c.Gateway.RenewDivisor)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 7070
	}
	if c.Gateway.LeaseTTLMs == 0 {
		c.Gateway.LeaseTTLMs = 30000
	}
	if c.Gateway.RenewDivisor == 0 {
		c.Gateway.RenewDivisor = 3
	}
	if c.Gateway.SweepInterval == "" {
		c.Gateway.SweepInterval = "@every 15s"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "switchyard.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Agents.Default == "" {
		c.Agents.Default = "claude"
	}
	if c.Agents.GraceSecs == 0 {
		c.Agents.GraceSecs = 10
	}
	if c.Workflow.DefaultInputTimeoutMin == 0 {
		c.Workflow.DefaultInputTimeoutMin = 60
	}
	if c.Relay.SnapshotBytes == 0 {
		c.Relay.SnapshotBytes = 256 * 1024
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not sqlite or mysql", c.Database.Driver))
	}
	if c.Database.Driver == "mysql" && c.Database.Database == "" {
		errs = append(errs, "database.database is required for mysql")
	}
	if c.Gateway.LeaseTTLMs < 0 {
		errs = append(errs, "gateway.lease_ttl_ms must be positive")
	}
	if c.Gateway.RenewDivisor < 2 {
		errs = append(errs, "gateway.renew_divisor must be at least 2")
	}
	for i, f := range c.Agents.Fallbacks {
		if f == "" {
			errs = append(errs, fmt.Sprintf("agents.fallbacks[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
