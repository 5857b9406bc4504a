// ABOUTME: Store interface and data types for drivenet-gateway persistence
// ABOUTME: Defines DeviceRecord, TunnelEvent and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DeviceRecord is the last-known state of a user's desktop agent.
// It is written on every connect, disconnect, and device registration so
// clients can show "last known device" even while the agent is offline.
// Online status is never stored; it is always derived from the live
// connection table.
type DeviceRecord struct {
	Identity    string
	Email       string
	DeviceLabel string
	LastSeen    time.Time
}

// Tunnel event types recorded in the audit log
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventRejected     = "rejected"
	EventSuperseded   = "superseded"
)

// TunnelEvent is one entry in the tunnel audit log
type TunnelEvent struct {
	ID        string
	Identity  string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// Store defines the interface for device record and audit persistence
type Store interface {
	// Device records
	SaveDeviceRecord(ctx context.Context, rec *DeviceRecord) error
	GetDeviceRecord(ctx context.Context, identity string) (*DeviceRecord, error)
	ListDeviceRecords(ctx context.Context) ([]*DeviceRecord, error)

	// Tunnel audit log
	LogTunnelEvent(ctx context.Context, event *TunnelEvent) error
	ListTunnelEvents(ctx context.Context, identity string, limit int) ([]*TunnelEvent, error)

	// Close releases any resources held by the store
	Close() error
}
