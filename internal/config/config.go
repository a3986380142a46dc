// Package config handles Fixie configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/fixie/config.yaml, /etc/fixie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fixie", "config.yaml"))
	}

	paths = append(paths, "/etc/fixie/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Fixie configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Freshdesk FreshdeskConfig `yaml:"freshdesk"`
	Storage   StorageConfig   `yaml:"storage"`
	Loop      LoopConfig      `yaml:"loop"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenAIConfig defines the language model provider settings.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"` // Default: https://api.openai.com/v1
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// FreshdeskConfig defines the ticketing backend settings.
type FreshdeskConfig struct {
	Domain string `yaml:"domain"` // e.g. yourcompany.freshdesk.com
	APIKey string `yaml:"api_key"`
	// TimeoutSec bounds a single ticket creation call (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
}

// StorageConfig selects the conversation store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file. Ignored for the memory backend.
	Path string `yaml:"path"`
	// MaxMessages caps retained history per conversation (default 100).
	MaxMessages int `yaml:"max_messages"`
}

// LoopConfig bounds the tool-calling loop.
type LoopConfig struct {
	// MaxRounds is the maximum number of model round-trips per turn.
	MaxRounds int `yaml:"max_rounds"`
	// ToolTimeoutSec bounds a single action execution (default 30).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail much later at
// request time.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (valid: memory, sqlite)", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite backend")
	}
	if c.Loop.MaxRounds < 0 {
		return fmt.Errorf("loop.max_rounds must not be negative")
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.6,
			MaxTokens:   600,
		},
		Freshdesk: FreshdeskConfig{TimeoutSec: 30},
		Storage:   StorageConfig{Backend: "memory", MaxMessages: 100},
		Loop:      LoopConfig{MaxRounds: 6, ToolTimeoutSec: 30},
	}
}
