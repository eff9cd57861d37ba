package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OIDCD_DEFAULT_TIMEOUT", "OIDCD_NO_AUTOLOAD", "OIDCD_CONFIRM",
		"OIDCD_REQUEST_TIMEOUT", "OIDCD_CACHE_DIR", "OIDCD_SOCKET_DIR",
		"OIDCD_CONFIG",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Zero(t, cfg.DefaultTimeout)
	assert.False(t, cfg.NoAutoload)
	assert.False(t, cfg.Confirm)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.NotEmpty(t, cfg.CacheDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OIDCD_DEFAULT_TIMEOUT", "3600")
	t.Setenv("OIDCD_NO_AUTOLOAD", "true")
	t.Setenv("OIDCD_REQUEST_TIMEOUT", "5s")
	t.Setenv("OIDCD_CACHE_DIR", "/tmp/oidcd-test-cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.EqualValues(t, 3600, cfg.DefaultTimeout)
	assert.True(t, cfg.NoAutoload)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/tmp/oidcd-test-cache", cfg.CacheDir)
}

func TestLoad_YAMLFileThenEnvWins(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_timeout: 60\nconfirm: true\n"), 0o600))
	t.Setenv("OIDCD_CONFIG", path)
	t.Setenv("OIDCD_DEFAULT_TIMEOUT", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.EqualValues(t, 120, cfg.DefaultTimeout, "env overrides file")
	assert.True(t, cfg.Confirm, "file value kept where env is silent")
}

func TestLoad_NegativeTimeoutRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("OIDCD_DEFAULT_TIMEOUT", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDCD_DEFAULT_TIMEOUT")
}

func TestLoad_BadConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - not yaml"), 0o600))
	t.Setenv("OIDCD_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
}
