// Package config loads server configuration from an optional YAML file
// with environment-variable overrides. Defaults are usable out of the
// box for local development against the in-memory stores.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Export    ExportConfig    `yaml:"export"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// DSN is a PostgreSQL connection string. Empty selects the
	// in-memory stores.
	DSN string `yaml:"dsn"`
}

type FleetConfig struct {
	// TTLSeconds is how long a machine stays in the fleet view after
	// its last report.
	TTLSeconds int `yaml:"ttl_seconds"`
}

type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// RateLimitConfig holds per-endpoint request budgets, in requests per
// minute per organization.
type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"default_per_minute"`
	ReportPerMinute  int `yaml:"report_per_minute"`
	ActionsPerMinute int `yaml:"actions_per_minute"`
}

type WebhookConfig struct {
	// URL receives critical-health notifications. Empty disables them.
	URL        string `yaml:"url"`
	MinSeconds int    `yaml:"min_seconds"`
}

type ExportConfig struct {
	Secret          string `yaml:"secret"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
}

// BootstrapConfig seeds the first organization and API key on startup
// when the org does not exist yet.
type BootstrapConfig struct {
	OrgID   string `yaml:"org_id"`
	OrgName string `yaml:"org_name"`
	APIKey  string `yaml:"api_key"`
}

// Load builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Fleet:   FleetConfig{TTLSeconds: 600},
		Session: SessionConfig{TTLSeconds: 28800},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 100,
			ReportPerMinute:  30,
			ActionsPerMinute: 10,
		},
		Webhook: WebhookConfig{MinSeconds: 300},
		Export:  ExportConfig{TokenTTLSeconds: 3600},
	}

	if path != "" {
		raw, err := os.ReadFile(os.ExpandEnv(path))
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fromEnv() error {
	if v := os.Getenv("DASHFLEET_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DASHFLEET_PG_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DASHFLEET_WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("DASHFLEET_EXPORT_SECRET"); v != "" {
		c.Export.Secret = v
	}
	if v := os.Getenv("DASHFLEET_BOOTSTRAP_ORG_ID"); v != "" {
		c.Bootstrap.OrgID = v
	}
	if v := os.Getenv("DASHFLEET_BOOTSTRAP_ORG_NAME"); v != "" {
		c.Bootstrap.OrgName = v
	}
	if v := os.Getenv("DASHFLEET_BOOTSTRAP_API_KEY"); v != "" {
		c.Bootstrap.APIKey = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"FLEET_TTL_SECONDS", &c.Fleet.TTLSeconds},
		{"SESSION_TTL_SECONDS", &c.Session.TTLSeconds},
		{"WEBHOOK_MIN_SECONDS", &c.Webhook.MinSeconds},
		{"EXPORT_TOKEN_TTL_SECONDS", &c.Export.TokenTTLSeconds},
		{"RATE_LIMIT_DEFAULT_PER_MINUTE", &c.RateLimit.DefaultPerMinute},
		{"RATE_LIMIT_REPORT_PER_MINUTE", &c.RateLimit.ReportPerMinute},
		{"RATE_LIMIT_ACTIONS_PER_MINUTE", &c.RateLimit.ActionsPerMinute},
	}
	for _, e := range ints {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", e.env, v)
		}
		*e.dst = n
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Fleet.TTLSeconds <= 0 {
		return fmt.Errorf("fleet ttl must be positive, got %d", c.Fleet.TTLSeconds)
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session ttl must be positive, got %d", c.Session.TTLSeconds)
	}
	for _, rl := range []struct {
		name string
		v    int
	}{
		{"default", c.RateLimit.DefaultPerMinute},
		{"report", c.RateLimit.ReportPerMinute},
		{"actions", c.RateLimit.ActionsPerMinute},
	} {
		if rl.v <= 0 {
			return fmt.Errorf("rate limit %s must be positive, got %d", rl.name, rl.v)
		}
	}
	if c.Webhook.URL != "" && c.Webhook.MinSeconds < 0 {
		return fmt.Errorf("webhook min interval must not be negative")
	}
	return nil
}

// FleetTTL returns the fleet entry lifetime as a duration.
func (c *Config) FleetTTL() time.Duration {
	return time.Duration(c.Fleet.TTLSeconds) * time.Second
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// WebhookMinInterval returns the minimum gap between webhook
// notifications for one organization.
func (c *Config) WebhookMinInterval() time.Duration {
	return time.Duration(c.Webhook.MinSeconds) * time.Second
}

// ExportTokenTTL returns the lifetime of signed export tokens.
func (c *Config) ExportTokenTTL() time.Duration {
	return time.Duration(c.Export.TokenTTLSeconds) * time.Second
}
