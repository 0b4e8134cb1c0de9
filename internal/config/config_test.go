package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreRunnable(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 50, cfg.Geofence.BufferMeters)

	// Default civil zone is UTC+5:30.
	utc := time.Date(2026, 8, 24, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, 9, utc.In(cfg.CivilZone()).Hour())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Server.Env)
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
gate:
  qr_ttl_minutes: 5
`), 0o644))

	t.Setenv("PORT", "7070")
	t.Setenv("QR_TTL_MINUTES", "20")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port, "env wins over YAML")
	assert.Equal(t, 20*time.Minute, cfg.TokenTTL())
}

func TestEnvRedisEnables(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}
