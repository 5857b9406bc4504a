// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8000"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"
  token_ttl: "12h"
  allowed_emails:
    - "owner@example.com"

tunnel:
  request_timeout: "45s"
  max_message_bytes: 1048576

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8000" {
		t.Errorf("http_addr = %q, want 0.0.0.0:8000", cfg.Server.HTTPAddr)
	}
	if cfg.Tunnel.RequestTimeout != 45*time.Second {
		t.Errorf("request_timeout = %v, want 45s", cfg.Tunnel.RequestTimeout)
	}
	if cfg.Tunnel.MaxMessageBytes != 1048576 {
		t.Errorf("max_message_bytes = %d, want 1048576", cfg.Tunnel.MaxMessageBytes)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("token_ttl = %v, want 12h", cfg.Auth.TokenTTL)
	}
	if len(cfg.Auth.AllowedEmails) != 1 || cfg.Auth.AllowedEmails[0] != "owner@example.com" {
		t.Errorf("allowed_emails = %v", cfg.Auth.AllowedEmails)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Tunnel.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("request_timeout = %v, want default %v", cfg.Tunnel.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Tunnel.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("max_message_bytes = %d, want default %d", cfg.Tunnel.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.Auth.TokenTTL != DefaultTokenTTL {
		t.Errorf("token_ttl = %v, want default %v", cfg.Auth.TokenTTL, DefaultTokenTTL)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DRIVENET_SECRET", "expanded-secret")

	configPath := writeConfig(t, `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_DRIVENET_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("jwt_secret = %q, want expanded-secret", cfg.Auth.JWTSecret)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
`,
			wantErr: "auth.jwt_secret is required",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8000"
auth:
  jwt_secret: "s"
`,
			wantErr: "database.path is required",
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`,
			wantErr: "tailscale.hostname is required",
		},
		{
			name: "bad allowed email",
			content: `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
  allowed_emails:
    - "not-an-email"
`,
			wantErr: "not an email address",
		},
		{
			name: "bad duration",
			content: `
server:
  http_addr: ":8000"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
tunnel:
  request_timeout: "banana"
`,
			wantErr: "parsing request_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_TailscaleConfig(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "drivenet"
  ephemeral: true
  funnel: true
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "drivenet" {
		t.Errorf("tailscale = %+v", cfg.Tailscale)
	}
	if !cfg.Tailscale.Funnel || !cfg.Tailscale.Ephemeral {
		t.Errorf("tailscale flags = %+v", cfg.Tailscale)
	}
}
