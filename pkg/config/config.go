package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderVirusTotal = "virustotal"
	ProviderGemini     = "gemini"

	DefaultModel      = "gemini-1.5-flash"
	DefaultMaxWorkers = 10
)

// envKeys maps a provider to the environment variable consulted when the
// config file holds no keys for it. The variable may carry a comma-separated list.
var envKeys = map[string]string{
	ProviderVirusTotal: "VT_API_KEY",
	ProviderGemini:     "GOOGLE_API_KEY",
}

type ProviderConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

type BusinessHours struct {
	Open  int `yaml:"open"`
	Close int `yaml:"close"`
}

type ReportConfig struct {
	JSON   string `yaml:"json,omitempty"`
	SQLite string `yaml:"sqlite,omitempty"`
}

type Config struct {
	SelectedModel string                    `yaml:"selected_model"`
	InputDir      string                    `yaml:"input_dir,omitempty"`
	BusinessHours BusinessHours             `yaml:"business_hours"`
	MaxWorkers    int                       `yaml:"max_workers"`
	Report        ReportConfig              `yaml:"report"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		SelectedModel: DefaultModel,
		BusinessHours: BusinessHours{Open: 1, Close: 24},
		MaxWorkers:    DefaultMaxWorkers,
		Providers:     make(map[string]ProviderConfig),
	}
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".hostsweep")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if cfg.SelectedModel == "" {
		cfg.SelectedModel = DefaultModel
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// 0600: the file holds API keys
	return os.WriteFile(path, data, 0600)
}

// Validate checks the fields a run depends on.
func (c *Config) Validate() error {
	h := c.BusinessHours
	if h.Open < 0 || h.Open > 24 || h.Close < 0 || h.Close > 24 {
		return fmt.Errorf("business hours must be within 0..24, got %d..%d", h.Open, h.Close)
	}
	if h.Open > h.Close {
		return fmt.Errorf("business hours open (%d) is after close (%d)", h.Open, h.Close)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	return nil
}

// AddAPIKey appends key to the provider's pool. It reports false if the key was
// already present.
func (c *Config) AddAPIKey(provider, key string) bool {
	key = strings.TrimSpace(key)
	p := c.Providers[provider]
	if key == "" || slices.Contains(p.APIKeys, key) {
		return false
	}
	p.APIKeys = append(p.APIKeys, key)
	c.Providers[provider] = p
	return true
}

// RemoveAPIKey drops key from the provider's pool.
func (c *Config) RemoveAPIKey(provider, key string) bool {
	p, ok := c.Providers[provider]
	if !ok {
		return false
	}
	i := slices.Index(p.APIKeys, strings.TrimSpace(key))
	if i < 0 {
		return false
	}
	p.APIKeys = slices.Delete(p.APIKeys, i, i+1)
	c.Providers[provider] = p
	return true
}

// APIKeys returns the provider's key pool, falling back to its environment
// variable when the file has none.
func (c *Config) APIKeys(provider string) []string {
	if keys := c.Providers[provider].APIKeys; len(keys) > 0 {
		return slices.Clone(keys)
	}
	env, ok := envKeys[provider]
	if !ok {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(os.Getenv(env), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
