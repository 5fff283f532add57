// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strconv"
)

// applyEnv layers environment-variable overrides onto cfg. It must run
// before applyDefaults: every branch only fills a field that is still at
// its Go zero value, i.e. one the config file left unset, so an explicit
// config file value always wins and a subsequent applyDefaults only fills
// whatever is still unset after both config and env have had a turn. Flags,
// applied by the caller after LoadWithDefaults returns, win over all three.
func applyEnv(cfg *Config) {
	if cfg.Server.Port == 0 {
		if v, ok := lookupNonEmpty("BRIDGE_PORT", "PORT"); ok {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Server.Port = port
			}
		}
	}
	if cfg.Backend.PersistentBinPath == "" {
		if v, ok := lookupNonEmpty("CLAUDE_PATH"); ok {
			cfg.Backend.PersistentBinPath = v
		}
	}
	if cfg.Backend.EphemeralBinPath == "" {
		if v, ok := lookupNonEmpty("CODEX_PATH"); ok {
			cfg.Backend.EphemeralBinPath = v
		}
	}
	if cfg.Backend.McpConfigPath == "" {
		if v, ok := lookupNonEmpty("BRIDGE_MCP_CONFIG"); ok {
			cfg.Backend.McpConfigPath = v
		}
	}
	if cfg.Bot.ServerURL == "" {
		if v, ok := lookupNonEmpty("ARINOVA_SERVER_URL"); ok {
			cfg.Bot.ServerURL = v
		}
	}
	if cfg.Bot.BotToken == "" {
		if v, ok := lookupNonEmpty("ARINOVA_BOT_TOKEN"); ok {
			cfg.Bot.BotToken = v
		}
	}
	if cfg.Registry.DefaultCwd == "" {
		if v, ok := lookupNonEmpty("DEFAULT_CWD"); ok {
			cfg.Registry.DefaultCwd = v
		}
	}
	if cfg.Registry.MaxSessions == 0 {
		if v, ok := lookupNonEmpty("MAX_SESSIONS"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Registry.MaxSessions = n
			}
		}
	}
	if cfg.Registry.IdleTimeoutMS == 0 {
		if v, ok := lookupNonEmpty("IDLE_TIMEOUT_MS"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Registry.IdleTimeoutMS = n
			}
		}
	}
	// OPENCLAW_WORKSPACE is a fallback root for the state directory, so it
	// only applies when no config value has already set one.
	if cfg.Persistence.StateDir == "" {
		if v, ok := lookupNonEmpty("OPENCLAW_WORKSPACE"); ok {
			cfg.Persistence.StateDir = v
		}
	}
}

func lookupNonEmpty(names ...string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}
