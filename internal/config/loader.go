// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path. The format
// is chosen by extension: ".yaml"/".yml" is parsed directly as YAML;
// everything else (including ".hjson" and ".json") goes through the HJSON
// parser, which is a superset of JSON.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		var raw map[string]interface{}
		if err := hjson.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse hjson: %w", err)
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("convert to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	return &cfg, nil
}

// LoadWithDefaults loads config from path when path is non-empty (a read
// or parse error is returned), then lets environment variables fill fields
// the file left unset, then applies defaults to whatever is still unset.
func (l *Loader) LoadWithDefaults(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		loaded, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
	}

	// Env fills in whatever the config file left unset, then defaults fill
	// in whatever is still unset after that: config file > env > defaults.
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches the current directory for a config file, preferring
// bridge.hjson, then bridge.json, then bridge.yaml. Returns "" with no
// error if none is found, since a config file is optional (env vars and
// flags alone can describe a minimal deployment).
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{"bridge.hjson", "bridge.json", "bridge.yaml", "bridge.yml"}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Backend.PersistentBinPath == "" {
		cfg.Backend.PersistentBinPath = "claude"
	}
	if cfg.Backend.EphemeralBinPath == "" {
		cfg.Backend.EphemeralBinPath = "codex"
	}

	if cfg.Registry.MaxSessions == 0 {
		cfg.Registry.MaxSessions = 5
	}
	if cfg.Registry.IdleTimeoutMS == 0 {
		cfg.Registry.IdleTimeoutMS = 30 * 60 * 1000
	}
	if cfg.Registry.DefaultCwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Registry.DefaultCwd = wd
		}
	}

	if cfg.Persistence.StateDir == "" {
		cfg.Persistence.StateDir = "."
	}

	if len(cfg.Models) == 0 {
		cfg.Models = []ModelConfig{
			{ID: "claude", OwnedBy: "anthropic"},
			{ID: "codex", OwnedBy: "openai", Ephemeral: true},
		}
	}
}
