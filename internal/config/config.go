// Package config handles application configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the per-tenant polling and delivery constants.
// A zero field inherits the value from Config.Defaults.
type Policy struct {
	CheckInterval    time.Duration `yaml:"check_interval"`
	MaxEntries       int           `yaml:"max_entries"`
	MaxMessageLength int           `yaml:"max_message_length"`
	SendInterval     time.Duration `yaml:"send_interval"`
	SendRetries      int           `yaml:"send_retries"`
	SendBackoff      time.Duration `yaml:"send_backoff"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SeenRetention    time.Duration `yaml:"seen_retention"`
}

// Tenant is one bot instance.
type Tenant struct {
	ID      string `yaml:"id"`
	Token   string `yaml:"token"`
	OwnerID int64  `yaml:"owner_id"`
	Policy  `yaml:",inline"`
}

// Config holds the application configuration.
type Config struct {
	DatabasePath   string        `yaml:"database_path"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
	LogMaxSizeMB   int           `yaml:"log_max_size_mb"`
	LogMaxBackups  int           `yaml:"log_max_backups"`
	LogMaxAgeDays  int           `yaml:"log_max_age_days"`
	StartupStagger time.Duration `yaml:"startup_stagger"`
	Defaults       Policy        `yaml:"defaults"`
	Tenants        []Tenant      `yaml:"tenants"`
}

// DefaultPolicy returns the built-in policy constants.
func DefaultPolicy() Policy {
	return Policy{
		CheckInterval:    3 * time.Hour,
		MaxEntries:       5,
		MaxMessageLength: 1000,
		SendInterval:     500 * time.Millisecond,
		SendRetries:      3,
		SendBackoff:      time.Second,
		FailureThreshold: 3,
	}
}

// Load reads configuration from the YAML file at path and applies environment
// overrides. With an empty path the configuration comes from the environment only
// and describes a single tenant.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && len(cfg.Tenants) == 0 {
		raw := os.Getenv("OWNER_ID")
		if raw == "" {
			return nil, fmt.Errorf("OWNER_ID is required with TELEGRAM_BOT_TOKEN")
		}
		owner, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OWNER_ID %q: %w", raw, err)
		}
		cfg.Tenants = []Tenant{{Token: token, OwnerID: owner}}
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./data/bot.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Defaults = cfg.Defaults.merge(DefaultPolicy())

	if err := cfg.finalizeTenants(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finalizeTenants() error {
	if len(c.Tenants) == 0 {
		return errors.New("no tenants configured: set TELEGRAM_BOT_TOKEN or list tenants in the config file")
	}

	ids := make(map[string]bool, len(c.Tenants))
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.Token == "" {
			return fmt.Errorf("tenant %d: token is required", i)
		}
		if t.OwnerID == 0 {
			return fmt.Errorf("tenant %d: owner_id is required", i)
		}
		if t.ID == "" {
			t.ID = TenantIDFromToken(t.Token)
		}
		if ids[t.ID] {
			return fmt.Errorf("tenant %d: duplicate id %q", i, t.ID)
		}
		ids[t.ID] = true
		t.Policy = t.Policy.merge(c.Defaults)
	}
	return nil
}

// TenantIDFromToken derives a stable tenant id from a bot token.
// Telegram tokens have the form "<bot id>:<secret>"; the bot id is used.
func TenantIDFromToken(token string) string {
	id, _, _ := strings.Cut(token, ":")
	return id
}

func (p Policy) merge(d Policy) Policy {
	if p.CheckInterval == 0 {
		p.CheckInterval = d.CheckInterval
	}
	if p.MaxEntries == 0 {
		p.MaxEntries = d.MaxEntries
	}
	if p.MaxMessageLength == 0 {
		p.MaxMessageLength = d.MaxMessageLength
	}
	if p.SendInterval == 0 {
		p.SendInterval = d.SendInterval
	}
	if p.SendRetries == 0 {
		p.SendRetries = d.SendRetries
	}
	if p.SendBackoff == 0 {
		p.SendBackoff = d.SendBackoff
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.SeenRetention == 0 {
		p.SeenRetention = d.SeenRetention
	}
	return p
}
