package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NATS.SubjectPrefix != "keyvault" {
		t.Errorf("expected default prefix, got %q", cfg.NATS.SubjectPrefix)
	}
	if cfg.Approval.Timeout() != 0 {
		t.Errorf("expected no approval timeout by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyvault.yaml")
	data := `
dev_mode: true
approval:
  timeout_seconds: 300
  listen_addr: 0.0.0.0
principal:
  id: uid-123
  email: voter@example.com
nats:
  url: nats://nats:4222
  encoding: cbor
backup:
  driver: s3
  bucket: keyvault-backups
  kms_key_id: alias/keyvault
harden:
  lock_memory: true
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.DevMode || cfg.Principal.ID != "uid-123" || cfg.NATS.Encoding != "cbor" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Approval.Timeout() != 5*time.Minute || cfg.Approval.ListenAddr != "0.0.0.0" {
		t.Errorf("approval = %+v", cfg.Approval)
	}
	if !cfg.Harden.LockMemory {
		t.Error("expected harden.lock_memory to be set")
	}
	// Untouched sections keep their defaults.
	if cfg.NATS.MaxReconnects != -1 || cfg.Approval.HTTPPort != 8080 {
		t.Errorf("defaults lost: %+v", cfg.NATS)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("nats: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing principal", func(c *Config) { c.Principal.ID = "" }, "principal.id is required"},
		{"wildcard principal", func(c *Config) { c.Principal.ID = "a.b" }, "principal.id must not contain"},
		{"bad encoding", func(c *Config) { c.NATS.Encoding = "xml" }, "nats.encoding"},
		{"s3 without bucket", func(c *Config) { c.Backup.Driver = "s3" }, "backup.bucket is required"},
		{"bad driver", func(c *Config) { c.Backup.Driver = "gcs" }, "backup.driver"},
		{"negative timeout", func(c *Config) { c.Approval.TimeoutSeconds = -1 }, "timeout_seconds"},
		{"zero rate", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"missing token", func(c *Config) { c.Approval.Token = "" }, "approval.token is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Principal.ID = "uid-1"
			cfg.Approval.Token = "operator-secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Principal.ID = "uid-1"
	cfg.Approval.Token = "operator-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with principal and token should validate: %v", err)
	}

	// Dev mode runs without a token; the HTTP API then refuses every /v1 call.
	cfg.Approval.Token = ""
	cfg.DevMode = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev mode without token should validate: %v", err)
	}
}

func TestDefaultListensOnLoopback(t *testing.T) {
	if got := Default().Approval.ListenAddr; got != "127.0.0.1" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1", got)
	}
	if Default().Harden.LockMemory {
		t.Error("memory locking should be opt-in")
	}
}

func TestApprovalTokenFromEnv(t *testing.T) {
	t.Setenv(ApprovalTokenEnv, "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Approval.Token != "from-env" {
		t.Errorf("Token = %q, want from-env", cfg.Approval.Token)
	}
}
