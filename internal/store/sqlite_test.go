// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers device record upserts, lookups, and the tunnel event audit log

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceRecords_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &DeviceRecord{
		Identity:    "sub-1",
		Email:       "user@example.com",
		DeviceLabel: "Office PC",
		LastSeen:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveDeviceRecord(ctx, rec))

	got, err := s.GetDeviceRecord(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, "Office PC", got.DeviceLabel)
	assert.WithinDuration(t, rec.LastSeen, got.LastSeen, time.Second)
}

func TestDeviceRecords_UpsertReplacesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &DeviceRecord{Identity: "sub-1", Email: "user@example.com", DeviceLabel: "Old", LastSeen: time.Now()}
	require.NoError(t, s.SaveDeviceRecord(ctx, first))

	second := &DeviceRecord{Identity: "sub-1", Email: "user@example.com", DeviceLabel: "New", LastSeen: time.Now()}
	require.NoError(t, s.SaveDeviceRecord(ctx, second))

	got, err := s.GetDeviceRecord(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "New", got.DeviceLabel)

	records, err := s.ListDeviceRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDeviceRecords_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDeviceRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTunnelEvents_LogAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, event := range []string{EventConnected, EventDisconnected, EventConnected} {
		require.NoError(t, s.LogTunnelEvent(ctx, &TunnelEvent{
			Identity:  "sub-1",
			Event:     event,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.LogTunnelEvent(ctx, &TunnelEvent{
		Identity: "sub-2",
		Event:    EventRejected,
		Detail:   "invalid token",
	}))

	events, err := s.ListTunnelEvents(ctx, "sub-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Most recent first
	assert.Equal(t, EventConnected, events[0].Event)

	events, err = s.ListTunnelEvents(ctx, "sub-2", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid token", events[0].Detail)
}

func TestTunnelEvents_LimitApplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.LogTunnelEvent(ctx, &TunnelEvent{
			Identity:  "sub-1",
			Event:     EventConnected,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := s.ListTunnelEvents(ctx, "sub-1", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSQLiteStore_FileBacked(t *testing.T) {
	path := t.TempDir() + "/nested/dir/gateway.db"

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	rec := &DeviceRecord{Identity: "sub-1", Email: "user@example.com", LastSeen: time.Now()}
	require.NoError(t, s.SaveDeviceRecord(context.Background(), rec))
	require.NoError(t, s.Close())

	// Reopen and confirm the record survived
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetDeviceRecord(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)
}
