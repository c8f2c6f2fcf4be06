package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FREEMINER_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Simulation.ActiveBlockRange)
	assert.Equal(t, "cube", cfg.Simulation.ActiveBlockShape)
	assert.True(t, cfg.Simulation.EnableABMs)
	assert.Equal(t, "badger", cfg.Storage.Backend)
}

func TestLoadOverridesAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte(`
simulation:
  active_block_range: -2
  active_object_send_range_blocks: 5
  active_block_shape: Sphere
  enable_abms: false
storage:
  backend: SQLite
  dsn: world.sqlite
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Simulation.ActiveBlockRange, "отрицательный радиус обнуляется на границе конфигурации")
	assert.Equal(t, 5, cfg.Simulation.ActiveObjectSendRangeBlocks)
	assert.Equal(t, "sphere", cfg.Simulation.ActiveBlockShape)
	assert.False(t, cfg.Simulation.EnableABMs)
	assert.Equal(t, 1.0, cfg.Simulation.ABMInterval, "отсутствующие ключи сохраняют значения по умолчанию")
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "world.sqlite", cfg.Storage.GetDSN())
}

func TestPortEnvFallback(t *testing.T) {
	t.Setenv("FREEMINER_REST_PORT", "9099")

	s := ServerConfig{}
	assert.Equal(t, 9099, s.GetRESTPort())

	s.RESTPort = 8000
	assert.Equal(t, 8000, s.GetRESTPort())
	assert.Equal(t, 2112, s.GetMetricsPort())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadCacheAndAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte(`
server:
  auth:
    enabled: true
    token_ttl_minutes: -5
storage:
  cache:
    backend: " Local "
    ttl_seconds: -1
`)
	require.NoError(t, os.WriteFile(path, data, 0644))
	t.Setenv("FREEMINER_JWT_SECRET", "c2VjcmV0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, 60, cfg.Server.Auth.TokenTTLMinutes)
	assert.Equal(t, "admin", cfg.Server.Auth.AdminUser)
	assert.Equal(t, "c2VjcmV0", cfg.Server.Auth.GetSecret(), "ключ берется из окружения")

	assert.Equal(t, "local", cfg.Storage.Cache.Backend)
	assert.Equal(t, 0, cfg.Storage.Cache.TTLSeconds)
	assert.Equal(t, int64(64<<20), cfg.Storage.Cache.MaxBytes, "значение по умолчанию сохраняется")
}
