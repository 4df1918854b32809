package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default(), cfg)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "default config should be written")
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
addr: ":9090"
store:
  driver: mongo
  mongo_database: editor
rooms:
  idle_ttl: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("WIRECODE_ADDR", ":7070")
	t.Setenv("WIRECODE_RELAY_DRIVER", "nats")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, StoreMongo, cfg.Store.Driver)
	assert.Equal(t, "editor", cfg.Store.MongoDatabase)
	assert.Equal(t, RelayNATS, cfg.Relay.Driver)
	assert.Equal(t, time.Minute, cfg.Rooms.IdleTTL)
	assert.Equal(t, 2*time.Second, cfg.Rooms.FlushInterval)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600))

	_, _, err := Load(nil, path)
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", LogLevel: "debug"})

	assert.Equal(t, ":1234", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().ShutdownTimeout, cfg.ShutdownTimeout)
}
