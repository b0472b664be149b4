package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8710", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8710", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout.Std())
	assert.Equal(t, 64, cfg.Shell.MaxWindows)
	assert.Equal(t, uint32(5), cfg.Bridge.BreakerFailures)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("WINSHELL_SERVER_PORT", "9000")
	t.Setenv("WINSHELL_SERVER_ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("WINSHELL_LOGGING_LEVEL", "debug")
	t.Setenv("WINSHELL_LOGGING_DEV", "true")
	t.Setenv("WINSHELL_DISPATCH_TIMEOUT", "250ms")
	t.Setenv("WINSHELL_SHELL_MAX_WINDOWS", "3")
	t.Setenv("WINSHELL_BRIDGE_BREAKER_FAILURES", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.Timeout.Std())
	assert.Equal(t, 3, cfg.Shell.MaxWindows)
	assert.Equal(t, uint32(2), cfg.Bridge.BreakerFailures)

	// Untouched values keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, float64(800), cfg.Shell.DefaultWidth)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("WINSHELL_DISPATCH_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
	assert.Equal(t, Default().Dispatch.Timeout, LoadOrDefault().Dispatch.Timeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "winshell.toml")
	content := `
[server]
port = "7000"

[dispatch]
timeout = "2s"

[shell]
max_windows = 8
default_width = 1024.0
default_height = 768.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Run("file values", func(t *testing.T) {
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "7000", cfg.Server.Port)
		assert.Equal(t, 2*time.Second, cfg.Dispatch.Timeout.Std())
		assert.Equal(t, 8, cfg.Shell.MaxWindows)
		assert.Equal(t, float64(1024), cfg.Shell.DefaultWidth)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("WINSHELL_SERVER_PORT", "7100")
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "7100", cfg.Server.Port)
		assert.Equal(t, 8, cfg.Shell.MaxWindows)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(dir, "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("[server\nport="), 0o600))
		_, err := LoadFile(bad)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Shell.MaxWindows = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Shell.DefaultWidth = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.MaxConnections = -1
	assert.Error(t, cfg.Validate())
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "30s")

	var decoded Config
	require.NoError(t, toml.Unmarshal(data, &decoded))
	assert.Equal(t, *Default(), decoded)
}
