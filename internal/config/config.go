// Package config loads the vault engine configuration from an optional
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Oracle struct {
		FeedURL             string `yaml:"feed_url"`
		MaxStalenessSeconds int    `yaml:"max_staleness_seconds"`
		PollSpec            string `yaml:"poll_spec"`
	} `yaml:"oracle"`
	Vault struct {
		FeeRecipient string `yaml:"fee_recipient"`
	} `yaml:"vault"`
	Roles struct {
		AgentAccount string `yaml:"agent_account"`
		AgentToken   string `yaml:"agent_token"`
		AdminAccount string `yaml:"admin_account"`
		AdminToken   string `yaml:"admin_token"`
	} `yaml:"roles"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		cfg.Oracle.FeedURL = v
	}
	if v := os.Getenv("ORACLE_MAX_STALENESS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.MaxStalenessSeconds = n
		}
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		cfg.Vault.FeeRecipient = v
	}
	if v := os.Getenv("AGENT_TOKEN"); v != "" {
		cfg.Roles.AgentToken = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Roles.AdminToken = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Oracle.MaxStalenessSeconds <= 0 {
		c.Oracle.MaxStalenessSeconds = 60
	}
	if c.Oracle.PollSpec == "" {
		c.Oracle.PollSpec = "@every 15s"
	}
	if c.Vault.FeeRecipient == "" {
		c.Vault.FeeRecipient = "treasury"
	}
	if c.Roles.AgentAccount == "" {
		c.Roles.AgentAccount = "agent"
	}
	if c.Roles.AgentToken == "" {
		c.Roles.AgentToken = "dev-agent-token"
	}
	if c.Roles.AdminAccount == "" {
		c.Roles.AdminAccount = "admin"
	}
	if c.Roles.AdminToken == "" {
		c.Roles.AdminToken = "dev-admin-token"
	}
}
