package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models pawfund.yml. Secrets (gateway keys, JWT secret) never live
// here; they come from the environment.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"app"`
	Checkout struct {
		SuccessURL     string   `yaml:"success_url"`
		CancelURL      string   `yaml:"cancel_url"`
		PaymentMethods []string `yaml:"payment_methods"`
	} `yaml:"checkout"`
	Gateway struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"gateway"`
	Hooks []HookConfig `yaml:"hooks"`
}

// HookConfig is one outbound audit-event forwarding target.
type HookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.Currency == "" {
		return fmt.Errorf("config.app.currency is required")
	}
	if len(c.App.Currency) != 3 {
		return fmt.Errorf("config.app.currency must be a 3-letter code")
	}
	if c.Checkout.SuccessURL == "" || c.Checkout.CancelURL == "" {
		return fmt.Errorf("config.checkout.success_url and cancel_url are required")
	}
	if len(c.Checkout.PaymentMethods) == 0 {
		return fmt.Errorf("config.checkout.payment_methods is required")
	}
	for _, m := range c.Checkout.PaymentMethods {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("config.checkout.payment_methods contains an empty entry")
		}
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("config.gateway.base_url is required")
	}
	for i, h := range c.Hooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("config.hooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pawfund.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
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

const defaultTemplate = `app:
  name: PawFund
  currency: PHP

checkout:
  success_url: http://localhost:5173/animals?tab=donate
  cancel_url: http://localhost:5173/animals?tab=donate
  payment_methods: [gcash, card]

gateway:
  base_url: https://api.paymongo.com
`
