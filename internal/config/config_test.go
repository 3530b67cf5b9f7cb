package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, "environment: test\n"))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "bolt", cfg.Store.Driver)
	assert.Equal(t, "./data/registry.db", cfg.Store.Bolt.Path)
	assert.Equal(t, 15*time.Second, cfg.Sandbox.CallTimeout)
	assert.Equal(t, 10*time.Second, cfg.Search.ProviderTimeout)
	assert.Equal(t, 20, cfg.Search.PageSize)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenExpiry)
	assert.True(t, cfg.Features.EnableMetrics)
	assert.True(t, cfg.Features.EnableLegacyAdapter)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, `
server:
  port: 9999
store:
  driver: mongodb
  mongodb:
    uri: mongodb://db.internal:27017
    database: plugins
search:
  page_size: 50
features:
  enable_legacy_adapter: false
`))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mongodb", cfg.Store.Driver)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.Store.MongoDB.URI)
	assert.Equal(t, 50, cfg.Search.PageSize)
	assert.False(t, cfg.Features.EnableLegacyAdapter)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, "server:\n  port: 9000\n"))
	t.Setenv("APP_SERVER_PORT", "9001")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 0\n", "port"},
		{"bad driver", "store:\n  driver: redis\n", "store driver"},
		{"bad mongo uri", "store:\n  driver: mongodb\n  mongodb:\n    uri: postgres://x\n", "mongodb URI"},
		{"bad call timeout", "sandbox:\n  call_timeout: 0s\n", "call timeout"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", writeConfigFile(t, tc.content))
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateAndFixConfig(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, "store:\n  bolt:\n    path: "+filepath.Join(t.TempDir(), "data", "registry.db")+"\n"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.Server.ReadTimeout = 10 * time.Millisecond
	cfg.Sandbox.MaxResponseBytes = 0
	cfg.Logging.Level = "loud"

	warnings := ValidateAndFixConfig(cfg)

	assert.NotEmpty(t, cfg.Auth.JWTSecret, "a missing JWT secret is generated")
	assert.Equal(t, time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(8<<20), cfg.Sandbox.MaxResponseBytes)
	assert.Equal(t, "info", cfg.Logging.Level)

	joined := strings.Join(warnings, "\n")
	assert.Contains(t, joined, "JWT secret")
	assert.Contains(t, joined, "Admin key")
	assert.Contains(t, joined, "read timeout")
	assert.Contains(t, joined, "logging level")

	// The bolt data directory was created.
	_, statErr := os.Stat(filepath.Dir(cfg.Store.Bolt.Path))
	assert.NoError(t, statErr)
}

func TestGenerateRandomSecret(t *testing.T) {
	a, err := generateRandomSecret(32)
	require.NoError(t, err)
	b, err := generateRandomSecret(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
