package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all ensemble configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Engine timing and history settings
	Engine EngineConfig `yaml:"engine"`

	// Rule file loading and hot reload
	Rules RulesConfig `yaml:"rules"`

	// Performance journal
	Journal JournalConfig `yaml:"journal"`

	// Key/MIDI input mapping
	Input InputConfig `yaml:"input"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RulesConfig configures rule file loading.
type RulesConfig struct {
	// Path to the YAML rule file. Empty means built-in defaults only.
	Path string `yaml:"path"`

	// Watch reloads the rule file on change.
	Watch bool `yaml:"watch"`

	// Debounce window for rapid saves
	Debounce string `yaml:"debounce"`
}

// JournalConfig configures the performance journal.
type JournalConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// InputConfig configures key and MIDI note mapping.
type InputConfig struct {
	// Keymap overrides: key token or MIDI note (as string) -> archetype id
	Keymap map[string]string `yaml:"keymap"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ensemble",
		Version: "0.3.0",

		Engine: DefaultEngineConfig(),

		Rules: RulesConfig{
			Path:     "",
			Watch:    false,
			Debounce: "500ms",
		},

		Journal: JournalConfig{
			Enabled:      false,
			DatabasePath: "data/ensemble.db",
		},

		Input: InputConfig{
			Keymap: map[string]string{},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "ensemble.log",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("ENSEMBLE_RULES"); path != "" {
		c.Rules.Path = path
	}
	if path := os.Getenv("ENSEMBLE_DB"); path != "" {
		c.Journal.DatabasePath = path
		c.Journal.Enabled = true
	}
	if seed := os.Getenv("ENSEMBLE_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Engine.Seed = v
		}
	}
	if level := os.Getenv("ENSEMBLE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.HistoryLimit < 1 {
		return fmt.Errorf("engine.history_limit must be at least 1, got %d", c.Engine.HistoryLimit)
	}
	if c.Rules.Watch && c.Rules.Path == "" {
		return fmt.Errorf("rules.watch requires rules.path to be set")
	}
	if c.Journal.Enabled && c.Journal.DatabasePath == "" {
		return fmt.Errorf("journal.enabled requires journal.database_path to be set")
	}
	return nil
}

// DefaultConfigPath returns the default path to .ensemble/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".ensemble", "config.yaml")
	}
	return filepath.Join(cwd, ".ensemble", "config.yaml")
}
