package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "APP_ENV", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_IMAGE_MODEL", "GEMINI_BASE_URL", "SESSION_SECRET", "LOG_LEVEL", "TRUSTED_PROXIES"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("YAMLWithDefaults", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, `
port: 9090
gemini:
  api_key: "yaml-key"
  request_timeout: 5s
session:
  secret: "`+testSecret+`"
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "yaml-key", cfg.Gemini.APIKey)
		assert.Equal(t, 5*time.Second, cfg.Gemini.RequestTimeout)
		assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
		assert.Equal(t, 3, cfg.Gemini.MaxRetries)
		assert.Equal(t, "@every 10m", cfg.Session.SweepSpec)
		assert.Equal(t, "development", cfg.AppEnv)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("MissingFileUsesEnv", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "env-key")
		t.Setenv("SESSION_SECRET", testSecret)
		t.Setenv("PORT", "7000")
		t.Setenv("APP_ENV", "production")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "env-key", cfg.Gemini.APIKey)
		assert.Equal(t, 7000, cfg.Port)
		assert.True(t, cfg.IsProduction())
	})

	t.Run("EnvOverridesYAML", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_MODEL", "gemini-2.0-flash")
		path := writeConfig(t, `
gemini:
  api_key: "yaml-key"
  model: "gemini-1.5-pro"
session:
  secret: "`+testSecret+`"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SESSION_SECRET", testSecret)

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	})

	t.Run("ShortSecret", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("SESSION_SECRET", "short")

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 32 bytes")
	})

	t.Run("InvalidPort", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("SESSION_SECRET", testSecret)
		t.Setenv("PORT", "abc")

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("TrustedProxiesFromEnv", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("SESSION_SECRET", testSecret)
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 2001:db8::/32,")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "2001:db8::/32"}, cfg.TrustedProxies)
	})

	t.Run("InvalidTrustedProxy", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "k")
		t.Setenv("SESSION_SECRET", testSecret)
		t.Setenv("TRUSTED_PROXIES", "10.0.0.1")

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trusted_proxies")
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "port: [")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config yaml")
	})
}

func TestPath(t *testing.T) {
	t.Setenv("TASTE_CONFIG", "")
	assert.Equal(t, "./config.yaml", Path())

	t.Setenv("TASTE_CONFIG", "/etc/taste.yaml")
	assert.Equal(t, "/etc/taste.yaml", Path())
}
