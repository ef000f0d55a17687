// Copyright (c) 2026 Arka Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds the Gmail OAuth credentials for the settlement mailbox.
type MailboxConfig struct {
	Address      string `yaml:"address"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	RefreshToken string `yaml:"refresh_token"`
}

// LedgerConfig holds the ledger database connection and scoping settings.
type LedgerConfig struct {
	DatabaseURL string `yaml:"database_url"`
	OrgID       string `yaml:"org_id"`
	Currency    string `yaml:"currency"`
	Timezone    string `yaml:"timezone"`
}

// Config holds all configuration for the mail-sync service.
type Config struct {
	Mailbox MailboxConfig
	Ledger  LedgerConfig

	// Location is the parsed Ledger.Timezone. Event dates are computed in
	// this zone, never in UTC and never in the server's local zone.
	Location *time.Location

	// Redis (run lock)
	RedisURL string

	// Server
	Port       int
	SyncSecret string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox MailboxConfig `yaml:"mailbox"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Redis   struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Server struct {
		Port       int    `yaml:"port"`
		SyncSecret string `yaml:"sync_secret"`
	} `yaml:"server"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Missing mailbox or ledger
// credentials are a fatal configuration error: the pipeline refuses to run
// before any message is touched.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox:    raw.Mailbox,
		Ledger:     raw.Ledger,
		RedisURL:   firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		Port:       raw.Server.Port,
		SyncSecret: firstNonEmpty(raw.Server.SyncSecret, os.Getenv("SYNC_SECRET")),
	}
	if cfg.Port == 0 {
		cfg.Port = envOrDefaultInt("PORT", 8080)
	}
	if cfg.Ledger.Currency == "" {
		cfg.Ledger.Currency = "INR"
	}
	if cfg.Ledger.Timezone == "" {
		cfg.Ledger.Timezone = "Asia/Kolkata"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load ledger timezone %q: %w", cfg.Ledger.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Mailbox.Address == "" {
		missing = append(missing, "mailbox.address")
	}
	if c.Mailbox.ClientID == "" {
		missing = append(missing, "mailbox.client_id")
	}
	if c.Mailbox.ClientSecret == "" {
		missing = append(missing, "mailbox.client_secret")
	}
	if c.Mailbox.RefreshToken == "" {
		missing = append(missing, "mailbox.refresh_token")
	}
	if c.Ledger.DatabaseURL == "" {
		missing = append(missing, "ledger.database_url")
	}
	if c.Ledger.OrgID == "" {
		missing = append(missing, "ledger.org_id")
	}
	if c.SyncSecret == "" {
		missing = append(missing, "server.sync_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
