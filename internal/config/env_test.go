// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestApplyEnv_OverridesDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"BRIDGE_PORT":        "9100",
		"CLAUDE_PATH":        "/opt/claude",
		"CODEX_PATH":         "/opt/codex",
		"ARINOVA_SERVER_URL": "wss://chat.example/ws",
		"ARINOVA_BOT_TOKEN":  "tok-123",
		"DEFAULT_CWD":        "/workspace",
		"MAX_SESSIONS":       "9",
		"IDLE_TIMEOUT_MS":    "5000",
	}, func() {
		cfg := &Config{}
		applyEnv(cfg)
		applyDefaults(cfg)

		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, "/opt/claude", cfg.Backend.PersistentBinPath)
		assert.Equal(t, "/opt/codex", cfg.Backend.EphemeralBinPath)
		assert.Equal(t, "wss://chat.example/ws", cfg.Bot.ServerURL)
		assert.Equal(t, "tok-123", cfg.Bot.BotToken)
		assert.Equal(t, "/workspace", cfg.Registry.DefaultCwd)
		assert.Equal(t, 9, cfg.Registry.MaxSessions)
		assert.Equal(t, 5000, cfg.Registry.IdleTimeoutMS)
	})
}

func TestApplyEnv_ConfigValueWinsOverEnv(t *testing.T) {
	withEnv(t, map[string]string{"BRIDGE_PORT": "9100"}, func() {
		cfg := &Config{Server: ServerConfig{Port: 7000}}
		applyEnv(cfg)
		applyDefaults(cfg)

		assert.Equal(t, 7000, cfg.Server.Port, "a config-set port must not be overridden by env")
	})
}

func TestApplyEnv_WorkspaceFallsBackOnlyWhenStateDirUnset(t *testing.T) {
	withEnv(t, map[string]string{"OPENCLAW_WORKSPACE": "/var/bridge-state"}, func() {
		cfg := &Config{}
		applyEnv(cfg)
		applyDefaults(cfg)
		assert.Equal(t, "/var/bridge-state", cfg.Persistence.StateDir)
	})

	withEnv(t, map[string]string{"OPENCLAW_WORKSPACE": "/var/bridge-state"}, func() {
		cfg := &Config{Persistence: PersistenceConfig{StateDir: "/explicit"}}
		applyEnv(cfg)
		assert.Equal(t, "/explicit", cfg.Persistence.StateDir)
	})
}

func TestLoadWithDefaults_EnvDoesNotOverrideConfigFile(t *testing.T) {
	path := writeConfig(t, "bridge.hjson", `{server: {port: 7000}}`)

	withEnv(t, map[string]string{"BRIDGE_PORT": "9100"}, func() {
		cfg, err := NewLoader().LoadWithDefaults(path)
		assert.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port, "a config-set port must not be overridden by env")
	})
}
