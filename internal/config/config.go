// Package config loads the key vault daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration
type Config struct {
	// DevMode logs to the console and keeps password backups in memory
	DevMode bool `yaml:"dev_mode"`

	// LogLevel is a zerolog level name
	LogLevel string `yaml:"log_level"`

	// Principal the vault is unlocked for
	Principal PrincipalConfig `yaml:"principal"`

	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	Backup    BackupConfig    `yaml:"backup"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Harden    HardenConfig    `yaml:"harden"`
}

// PrincipalConfig identifies the authenticated principal
type PrincipalConfig struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
}

// StoreConfig holds key store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	SubjectPrefix   string `yaml:"subject_prefix"`
	ReconnectWait   int    `yaml:"reconnect_wait_ms"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	// Encoding is the frame codec: json or cbor
	Encoding string `yaml:"encoding"`
}

// BackupConfig holds password backup settings
type BackupConfig struct {
	// Driver is memory or s3
	Driver    string `yaml:"driver"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	KeyPrefix string `yaml:"key_prefix"`
	// KMSKeyID seals backups with AWS KMS when set
	KMSKeyID string `yaml:"kms_key_id"`
}

// ApprovalConfig holds approval surface settings
type ApprovalConfig struct {
	// TimeoutSeconds expires unresolved requests; 0 waits forever
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ListenAddr     string `yaml:"listen_addr"`
	HTTPPort       int    `yaml:"http_port"`
	// Token is the bearer token operators present to the HTTP API.
	// KEYVAULT_APPROVAL_TOKEN overrides it.
	Token string `yaml:"token"`
}

// Timeout returns the approval timeout as a duration
func (a ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PasswordConfig holds master password settings
type PasswordConfig struct {
	EnforcePolicy bool `yaml:"enforce_policy"`
	BindPrincipal bool `yaml:"bind_principal"`
}

// RateLimitConfig holds per-caller rate limits
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// HardenConfig holds process hardening settings. Hardening is skipped in
// dev mode.
type HardenConfig struct {
	// LockMemory pins the process in RAM so key material is never swapped
	LockMemory bool `yaml:"lock_memory"`
}

// ApprovalTokenEnv overrides approval.token
const ApprovalTokenEnv = "KEYVAULT_APPROVAL_TOKEN"

// Load loads configuration from a YAML file. A missing file yields defaults.
// Secrets set in the environment override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(ApprovalTokenEnv); token != "" {
		c.Approval.Token = token
	}
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DevMode:  false,
		LogLevel: "info",
		Store: StoreConfig{
			Path: "/var/lib/keyvault/keys.db",
		},
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			CredentialsFile: "",
			SubjectPrefix:   "keyvault",
			ReconnectWait:   2000,
			MaxReconnects:   -1, // Unlimited
			Encoding:        "json",
		},
		Backup: BackupConfig{
			Driver: "memory",
			Region: "us-east-1",
		},
		Approval: ApprovalConfig{
			TimeoutSeconds: 0,
			ListenAddr:     "127.0.0.1",
			HTTPPort:       8080,
		},
		Password: PasswordConfig{
			EnforcePolicy: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             10,
		},
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Principal.ID) == "" {
		errs = append(errs, errors.New("principal.id is required"))
	}
	if strings.ContainsAny(c.Principal.ID, ".*> ") {
		errs = append(errs, errors.New("principal.id must not contain '.', '*', '>' or spaces"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required"))
	}
	switch c.NATS.Encoding {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("nats.encoding %q is not json or cbor", c.NATS.Encoding))
	}
	switch c.Backup.Driver {
	case "memory":
	case "s3":
		if c.Backup.Bucket == "" {
			errs = append(errs, errors.New("backup.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("backup.driver %q is not memory or s3", c.Backup.Driver))
	}
	if c.Approval.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("approval.timeout_seconds must not be negative"))
	}
	if c.Approval.Token == "" && !c.DevMode {
		errs = append(errs, errors.New("approval.token is required"))
	}
	if c.Approval.HTTPPort < 0 || c.Approval.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("approval.http_port %d out of range", c.Approval.HTTPPort))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("ratelimit.requests_per_minute must be positive when enabled"))
	}

	return errors.Join(errs...)
}
