package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))

	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoad_EmptyPathReturnsZeroValue(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoad_ParsesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
default_drive = "b!abc123"
cache_dir = "/home/user/.cache/msod-stat"
token_path = "/home/user/.local/share/msod-stat/token.json"
log_level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "b!abc123", cfg.DefaultDrive)
	assert.Equal(t, "/home/user/.cache/msod-stat", cfg.CacheDir)
	assert.Equal(t, "/home/user/.local/share/msod-stat/token.json", cfg.TokenPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MalformedTOMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("this is not = valid [[ toml"), 0o600))

	_, err := Load(path)

	require.Error(t, err)
}
