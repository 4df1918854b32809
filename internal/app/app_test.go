package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecode-server/internal/config"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "wirecode.db")
	return cfg
}

func TestAppRunsUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	logger := zerolog.Nop()

	a, err := New(context.Background(), &cfg, &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppRejectsUnknownDrivers(t *testing.T) {
	logger := zerolog.Nop()

	cfg := testConfig(t)
	cfg.Store.Driver = "postgres"
	_, err := New(context.Background(), &cfg, &logger)
	assert.ErrorContains(t, err, "unknown store driver")

	cfg = testConfig(t)
	cfg.Relay.Driver = "kafka"
	_, err = New(context.Background(), &cfg, &logger)
	assert.ErrorContains(t, err, "unknown relay driver")
}
