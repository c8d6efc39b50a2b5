// Package config loads the process configuration (spec.md §6.4) from an
// optional YAML file plus environment variable overrides, the layered
// pattern the teacher's own backend config package follows.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of values spec.md §6.4 enumerates.
type Config struct {
	BindHost                  string          `yaml:"bindHost"`
	BindPort                  int             `yaml:"bindPort"`
	DocumentsPath             string          `yaml:"documentsPath"`
	AutosaveIntervalSec       int             `yaml:"autosaveIntervalSec"`
	InitialLexicalStatePath   string          `yaml:"initialLexicalStatePath"`
	InitialLexicalState       map[string]any  `yaml:"-"`
	MaxEphemeralEntriesPerDoc int             `yaml:"maxEphemeralEntriesPerDoc"`
	ClientPingIntervalSec     int             `yaml:"clientPingIntervalSec"`
	ClientPingTimeoutSec      int             `yaml:"clientPingTimeoutSec"`
}

func defaults() Config {
	return Config{
		BindHost:                  "0.0.0.0",
		BindPort:                  8080,
		DocumentsPath:             "./documents",
		AutosaveIntervalSec:       30,
		MaxEphemeralEntriesPerDoc: 1000,
		ClientPingIntervalSec:     30,
		ClientPingTimeoutSec:      10,
	}
}

// Load reads configPath (optional — defaults are used if it does not
// exist), applies LEXICALORO_-prefixed environment variable overrides, and
// loads the seed Lexical state file if one is configured.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		if err := loadYAML(configPath, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.InitialLexicalStatePath != "" {
		data, err := os.ReadFile(cfg.InitialLexicalStatePath)
		if err != nil {
			return nil, fmt.Errorf("config: reading initial lexical state: %w", err)
		}
		var state map[string]any
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("config: parsing initial lexical state: %w", err)
		}
		cfg.InitialLexicalState = state
	}

	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEXICALORO_BIND_HOST"); v != "" {
		cfg.BindHost = v
	}
	if v := os.Getenv("LEXICALORO_BIND_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BindPort = n
		}
	}
	if v := os.Getenv("LEXICALORO_DOCUMENTS_PATH"); v != "" {
		cfg.DocumentsPath = v
	}
	if v := os.Getenv("LEXICALORO_AUTOSAVE_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutosaveIntervalSec = n
		}
	}
	if v := os.Getenv("LEXICALORO_MAX_EPHEMERAL_ENTRIES_PER_DOC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEphemeralEntriesPerDoc = n
		}
	}
	if v := os.Getenv("LEXICALORO_CLIENT_PING_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientPingIntervalSec = n
		}
	}
	if v := os.Getenv("LEXICALORO_CLIENT_PING_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientPingTimeoutSec = n
		}
	}
}
