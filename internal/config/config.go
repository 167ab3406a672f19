// Package config provides configuration loading and management for WardClaw.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mackeh/WardClaw/internal/notifications"
	"github.com/mackeh/WardClaw/internal/patterns"
	"github.com/mackeh/WardClaw/internal/policy"
	"github.com/mackeh/WardClaw/internal/secrets"
	"gopkg.in/yaml.v3"
)

// Config represents the main WardClaw configuration
type Config struct {
	Version       string                         `yaml:"version"`
	Principal     string                         `yaml:"principal,omitempty"`
	DataDir       string                         `yaml:"data_dir,omitempty"`
	ManifestDir   string                         `yaml:"manifest_dir,omitempty"`
	Policy        policy.SecurityPolicy          `yaml:"policy"`
	Server        ServerConfig                   `yaml:"server"`
	Telemetry     TelemetryConfig                `yaml:"telemetry"`
	Secrets       SecretsConfig                  `yaml:"secrets"`
	Notifications []notifications.NotifierConfig `yaml:"notifications,omitempty"`
}

// ServerConfig contains the approval API settings
type ServerConfig struct {
	Enabled bool       `yaml:"enabled"`
	Addr    string     `yaml:"addr"`
	Auth    AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig holds API key authentication for the approval API.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []APIKey `yaml:"keys,omitempty"`
}

// APIKey maps a token to a role. Token holds the value inline;
// TokenSecret names an entry in the secrets store instead, so tokens
// can stay out of config.yaml.
type APIKey struct {
	Name        string `yaml:"name"`
	Token       string `yaml:"token,omitempty"`
	TokenSecret string `yaml:"token_secret,omitempty"`
	Role        string `yaml:"role"`
}

// TelemetryConfig contains observability settings
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // e.g., "stdout", "none"
}

// SecretsConfig selects where signing and API secrets live
type SecretsConfig struct {
	Backend string              `yaml:"backend"` // "age" or "vault"
	Vault   secrets.VaultConfig `yaml:"vault,omitempty"`
}

// Default returns the configuration `wardclaw init` starts from.
func Default() *Config {
	return &Config{
		Version:   "1",
		Principal: "default",
		Policy:    policy.Default(),
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Telemetry: TelemetryConfig{
			Exporter: "stdout",
		},
		Secrets: SecretsConfig{
			Backend: "age",
		},
	}
}

// DefaultConfigDir returns the default configuration directory path
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wardclaw"), nil
}

// ResolveDataDir returns the directory audit and grant state lives in,
// defaulting to the config directory.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return patterns.ExpandHome(c.DataDir), nil
	}
	return DefaultConfigDir()
}

// ResolveManifestDir returns the tool manifest directory, defaulting
// to tools.d under the config directory.
func (c *Config) ResolveManifestDir() (string, error) {
	if c.ManifestDir != "" {
		return patterns.ExpandHome(c.ManifestDir), nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tools.d"), nil
}

// ResolveSecretsDir returns the directory the age keypair and secret
// blob live in.
func ResolveSecretsDir() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "secrets"), nil
}

// OpenSecrets opens the configured secrets backend.
func (c *Config) OpenSecrets() (secrets.Store, error) {
	dir, err := ResolveSecretsDir()
	if err != nil {
		return nil, err
	}
	return secrets.Open(c.Secrets.Backend, dir, c.Secrets.Vault)
}

// Load reads the configuration from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration from the default path
func LoadDefault() (*Config, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// LoadOrDefault loads the default config file, falling back to
// Default() when it does not exist yet.
func LoadOrDefault() *Config {
	cfg, err := LoadDefault()
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes the configuration to the specified path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
