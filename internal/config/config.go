package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"redline/internal/domain"
)

// Config models redline.yml.
type Config struct {
	Auth struct {
		// EmailDomain restricts login to addresses of one organization.
		EmailDomain     string `yaml:"email_domain"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Defaults struct {
		Severity string `yaml:"severity"`
	} `yaml:"defaults"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	domainName := strings.TrimSpace(c.Auth.EmailDomain)
	if domainName == "" {
		return fmt.Errorf("config.auth.email_domain is required")
	}
	if strings.Contains(domainName, "@") {
		return fmt.Errorf("config.auth.email_domain must not contain '@'")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Defaults.Severity != "" && !domain.Severity(c.Defaults.Severity).Valid() {
		return fmt.Errorf("config.defaults.severity %s is not a valid severity", c.Defaults.Severity)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "redline.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `auth:
  email_domain: deeplogicai.tech
  token_ttl_minutes: 1440

defaults:
  severity: MEDIUM
`
