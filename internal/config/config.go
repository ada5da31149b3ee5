// Package config loads server configuration from YAML. Missing files fall
// back to defaults; invalid YAML is an error.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "4h".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionConfig bounds session lifetimes and table growth.
type SessionConfig struct {
	DefaultTTL           Duration `yaml:"default_ttl"`
	MaxTTL               Duration `yaml:"max_ttl"`
	InactivityTimeout    Duration `yaml:"inactivity_timeout"`
	MaxSessionsPerClient int      `yaml:"max_sessions_per_client"`
	AllowScopeEscalation bool     `yaml:"allow_scope_escalation"`
}

// AuditConfig tunes the in-memory log and the durable sink.
type AuditConfig struct {
	MinSeverity    string `yaml:"min_severity"`
	RingSize       int    `yaml:"ring_size"`
	MaxFileBytes   int64  `yaml:"max_file_bytes"`
	MaxFiles       int    `yaml:"max_files"`
	FlushThreshold int    `yaml:"flush_threshold"`
}

// RateLimitEntry bounds per-session calls for one tool. The key "*"
// applies to every tool without its own entry.
type RateLimitEntry struct {
	MaxRequests int      `yaml:"max_requests"`
	Window      Duration `yaml:"window"`
}

// RedactionConfig extends the built-in sensitive key list.
type RedactionConfig struct {
	Marker        string   `yaml:"marker"`
	SensitiveKeys []string `yaml:"sensitive_keys"`
}

// Config holds all configurable server parameters.
type Config struct {
	DataDir    string                    `yaml:"data_dir"`
	Session    SessionConfig             `yaml:"session"`
	Audit      AuditConfig               `yaml:"audit"`
	Redaction  RedactionConfig           `yaml:"redaction"`
	RateLimits map[string]RateLimitEntry `yaml:"rate_limits"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Session: SessionConfig{
			DefaultTTL:           Duration(4 * time.Hour),
			MaxTTL:               Duration(24 * time.Hour),
			InactivityTimeout:    Duration(30 * time.Minute),
			MaxSessionsPerClient: 8,
		},
		Audit: AuditConfig{
			MinSeverity:    "info",
			RingSize:       4096,
			MaxFileBytes:   8 << 20,
			MaxFiles:       16,
			FlushThreshold: 32,
		},
		Redaction: RedactionConfig{},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loreguard"
	}
	return filepath.Join(home, ".loreguard", "data")
}

// DefaultPath is the config location used when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".loreguard", "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.loreguard/config.yaml. Missing file returns defaults. Fields absent
// from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 hash of the raw
// YAML bytes, so the active config can be pinned in the audit trail. When
// no file exists the hash covers empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) || path == "" {
			h := sha256.Sum256(nil)
			return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Audit.MinSeverity {
	case "debug", "info", "warning", "error", "critical":
	default:
		return fmt.Errorf("config: unknown audit severity %q", c.Audit.MinSeverity)
	}
	if c.Session.DefaultTTL.Std() > c.Session.MaxTTL.Std() {
		return fmt.Errorf("config: session default_ttl exceeds max_ttl")
	}
	if c.Audit.MaxFiles < 1 {
		return fmt.Errorf("config: audit max_files must be at least 1")
	}
	for tool, rl := range c.RateLimits {
		if rl.MaxRequests < 0 || (rl.MaxRequests > 0 && rl.Window.Std() <= 0) {
			return fmt.Errorf("config: rate limit for %q needs max_requests and window", tool)
		}
	}
	return nil
}

// DefaultYAML returns a commented YAML string for init-config.
func DefaultYAML() string {
	return `# loreguard server configuration
# Generated by: loreguard init-config

# Root directory for per-workspace databases and audit files.
#data_dir: ~/.loreguard/data

# Session lifetime bounds. Requested TTLs are capped at max_ttl.
session:
  default_ttl: 4h
  max_ttl: 24h
  inactivity_timeout: 30m
  max_sessions_per_client: 8
  # Scope escalation is refused unless this is set. Leave it off outside
  # tightly controlled deployments.
  allow_scope_escalation: false

# Audit log tuning. min_severity: debug | info | warning | error | critical
audit:
  min_severity: info
  ring_size: 4096
  max_file_bytes: 8388608
  max_files: 16
  flush_threshold: 32

# Extra payload keys to redact, merged with the built-in list
# (password, secret, token, key, credential, auth).
redaction:
  marker: "[REDACTED]"
  sensitive_keys: []

# Per-session tool call limits. "*" applies to tools without their own
# entry. Omit for no throttling.
#rate_limits:
#  lore_sync:
#    max_requests: 10
#    window: 1h
`
}
