// ABOUTME: Tests for gateway lifecycle
// ABOUTME: Startup, graceful shutdown on context cancel, store initialization

package gateway

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivenet/drivenet-gateway/internal/tunnel"
)

func TestGateway_New(t *testing.T) {
	gw, err := New(testConfig(t), slog.Default())
	require.NoError(t, err)
	require.NotNil(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, gw.Shutdown(ctx))
}

func TestGateway_RunStopsOnContextCancel(t *testing.T) {
	gw, err := New(testConfig(t), slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	// Give the listener a moment to bind, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "graceful shutdown returns nil")
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop after context cancel")
	}
}

func TestGateway_DBPathOverride(t *testing.T) {
	cfg := testConfig(t)
	override := filepath.Join(t.TempDir(), "override.db")
	t.Setenv("DRIVENET_DB_PATH", override)

	s, err := initStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, override)
}

func TestGateway_RecordsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, slog.Default())
	require.NoError(t, err)
	email := "user@example.com"
	gw.registry.RecordSeen("sub-1", tunnel.RecordPatch{Email: &email})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	gw2, err := New(cfg, slog.Default())
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw2.Shutdown(ctx)
	}()

	record := gw2.registry.GetRecord("sub-1")
	require.NotNil(t, record, "device record loaded from the store on startup")
	assert.Equal(t, "user@example.com", record.Email)
	assert.False(t, record.Online)
}
