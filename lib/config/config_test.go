// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const baseConfig = `
environment: development
server:
  listen_address: "127.0.0.1:8480"
  database_path: "/var/loom/entities.db"
realtime:
  token_secret_file: "/var/loom/token.secret"
  token_ttl: 90s
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:8480" {
		t.Errorf("listen_address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Realtime.TokenTTL.Seconds() != 90 {
		t.Errorf("token_ttl = %v", cfg.Realtime.TokenTTL)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig+`
production:
  server:
    listen_address: "0.0.0.0:443"
    database_path: "/srv/loom/entities.db"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Environment is development; the production section must not apply.
	if cfg.Server.ListenAddress != "127.0.0.1:8480" {
		t.Errorf("development config picked up production override: %q", cfg.Server.ListenAddress)
	}

	cfg, err = Load(writeConfig(t, `
environment: production
server:
  listen_address: "127.0.0.1:8480"
  database_path: "/var/loom/entities.db"
realtime:
  token_secret_file: "/var/loom/token.secret"
production:
  server:
    listen_address: "0.0.0.0:443"
    database_path: "/srv/loom/entities.db"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:443" {
		t.Errorf("production override not applied: %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.DatabasePath != "/srv/loom/entities.db" {
		t.Errorf("production database path not applied: %q", cfg.Server.DatabasePath)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing listen address", `
server:
  database_path: "/var/loom/entities.db"
realtime:
  token_secret_file: "/var/loom/token.secret"
`},
		{"missing database path", `
server:
  listen_address: "127.0.0.1:8480"
realtime:
  token_secret_file: "/var/loom/token.secret"
`},
		{"missing token secret", `
server:
  listen_address: "127.0.0.1:8480"
  database_path: "/var/loom/entities.db"
`},
		{"unknown environment", `
environment: laboratory
server:
  listen_address: "127.0.0.1:8480"
  database_path: "/var/loom/entities.db"
realtime:
  token_secret_file: "/var/loom/token.secret"
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
