// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_Load_HJSON(t *testing.T) {
	path := writeConfig(t, "bridge.hjson", `{
		// comment allowed
		server: {
			host: "0.0.0.0"
			port: 9000
		}
		backend: {
			persistent_bin_path: claude
		}
		models: [
			{ id: big, owned_by: anthropic }
		]
	}`)

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Backend.PersistentBinPath)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "big", cfg.Models[0].ID)
}

func TestLoader_Load_YAML(t *testing.T) {
	path := writeConfig(t, "bridge.yaml", "server:\n  host: 0.0.0.0\n  port: 9001\n")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestLoader_LoadWithDefaults_AppliesDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadWithDefaults("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Backend.PersistentBinPath)
	assert.Equal(t, "codex", cfg.Backend.EphemeralBinPath)
	assert.Equal(t, 5, cfg.Registry.MaxSessions)
	require.Len(t, cfg.Models, 2)
}

func TestLoader_LoadWithDefaults_ConfigFileWinsOverDefaults(t *testing.T) {
	path := writeConfig(t, "bridge.hjson", `{server: {port: 9999}}`)

	cfg, err := NewLoader().LoadWithDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields still get defaults")
}

func TestLoader_FindConfig_NoneFound(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	path, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoader_FindConfig_PrefersHJSONOverJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridge.hjson"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bridge.json"), []byte("{}"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	path, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "bridge.hjson")
}
