// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the configuration for the Loom sync service.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Server configures the server of record (HTTP API and storage).
	Server ServerConfig `yaml:"server"`

	// Realtime configures the room service and join tokens.
	Realtime RealtimeConfig `yaml:"realtime"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// ServerConfig configures the server of record.
type ServerConfig struct {
	// ListenAddress is the host:port the HTTP API binds to.
	ListenAddress string `yaml:"listen_address"`

	// DatabasePath is the SQLite database file for the entity store.
	DatabasePath string `yaml:"database_path"`
}

// RealtimeConfig configures the room service.
type RealtimeConfig struct {
	// TokenSecretFile is the path to the join-token HMAC secret.
	// Kept out of the config file itself so the config can be
	// committed and the secret provisioned separately.
	TokenSecretFile string `yaml:"token_secret_file"`

	// TokenTTL is the join-token lifetime. Zero uses the jointoken
	// package default.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// STUNServers lists STUN server URLs for ICE gathering
	// (e.g., "stun:stun.l.google.com:19302"). Empty means
	// host-candidates only, which is sufficient for same-network
	// and test deployments.
	STUNServers []string `yaml:"stun_servers"`
}

// Overrides contains the fields that can be replaced per environment.
// Only non-nil sections are applied.
type Overrides struct {
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Realtime *RealtimeConfig `yaml:"realtime,omitempty"`
}

// Load reads, parses, and validates the config file at path, applying
// the override section matching the configured environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Environment == "" {
		cfg.Environment = Development
	}

	cfg.applyOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// applyOverrides replaces base sections with the matching
// environment's sections. Replacement is per-section, not per-field:
// an override section fully describes that concern for its
// environment.
func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Server != nil {
		c.Server = *overrides.Server
	}
	if overrides.Realtime != nil {
		c.Realtime = *overrides.Realtime
	}
}

func (c *Config) validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if c.Server.DatabasePath == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if c.Realtime.TokenSecretFile == "" {
		return fmt.Errorf("realtime.token_secret_file is required")
	}
	if c.Realtime.TokenTTL < 0 {
		return fmt.Errorf("realtime.token_ttl must not be negative")
	}
	return nil
}
