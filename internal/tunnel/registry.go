// ABOUTME: Registry of live agent connections and durable device records
// ABOUTME: Online status is always derived from the live map, never cached

package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drivenet/drivenet-gateway/internal/store"
)

// Record is the last-known descriptive state of an agent. Online is
// filled in at read time from the live connection map, so it is truthful
// within one round trip of an actual disconnect.
type Record struct {
	Identity    string    `json:"agentId"`
	Email       string    `json:"email"`
	DeviceLabel string    `json:"device,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
}

// RecordPatch is a partial update applied by RecordSeen. Nil fields are
// left unchanged.
type RecordPatch struct {
	Email       *string
	DeviceLabel *string
}

// RecordStore is the persistence surface the registry writes through to.
type RecordStore interface {
	SaveDeviceRecord(ctx context.Context, rec *store.DeviceRecord) error
	ListDeviceRecords(ctx context.Context) ([]*store.DeviceRecord, error)
}

// Registry tracks the live connection and last-known record per identity.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	records map[string]*Record

	recordStore RecordStore // optional write-through persistence
	logger      *slog.Logger
}

// NewRegistry creates an empty registry. recordStore may be nil.
func NewRegistry(recordStore RecordStore, logger *slog.Logger) *Registry {
	return &Registry{
		conns:       make(map[string]*Conn),
		records:     make(map[string]*Record),
		recordStore: recordStore,
		logger:      logger,
	}
}

// LoadRecords warms the record cache from persistence so "last known
// device" survives a gateway restart.
func (r *Registry) LoadRecords(ctx context.Context) error {
	if r.recordStore == nil {
		return nil
	}

	saved, err := r.recordStore.ListDeviceRecords(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range saved {
		r.records[rec.Identity] = &Record{
			Identity:    rec.Identity,
			Email:       rec.Email,
			DeviceLabel: rec.DeviceLabel,
			LastSeen:    rec.LastSeen,
		}
	}
	r.logger.Info("device records loaded", "count", len(saved))
	return nil
}

// Register binds a connection to its identity, replacing any previous
// binding. The superseded connection, if any, is returned so the caller
// can close it; its disconnect handler will find the registry already
// pointing elsewhere and leave the new binding alone.
func (r *Registry) Register(conn *Conn) (superseded *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	superseded = r.conns[conn.Identity]
	r.conns[conn.Identity] = conn

	rec := r.recordLocked(conn.Identity)
	rec.Email = conn.Email
	rec.LastSeen = time.Now()
	r.persistLocked(rec)

	r.logger.Info("agent connected",
		"identity", conn.Identity,
		"email", conn.Email,
		"total_agents", len(r.conns),
	)
	return superseded
}

// Unregister removes the binding for an identity, but only if the
// registry still holds this exact connection. A stale disconnect handler
// racing a reconnect must not evict the newer connection.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[conn.Identity]
	if !ok || current != conn {
		return
	}
	delete(r.conns, conn.Identity)

	rec := r.recordLocked(conn.Identity)
	rec.LastSeen = time.Now()
	r.persistLocked(rec)

	r.logger.Info("agent disconnected",
		"identity", conn.Identity,
		"total_agents", len(r.conns),
	)
}

// Get returns the live connection for an identity.
func (r *Registry) Get(identity string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[identity]
	return conn, ok
}

// IsOnline reports whether a live connection exists for the identity.
func (r *Registry) IsOnline(identity string) bool {
	_, ok := r.Get(identity)
	return ok
}

// RecordSeen applies a partial update to an identity's record, creating
// it if needed, and returns a snapshot.
func (r *Registry) RecordSeen(identity string, patch RecordPatch) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.recordLocked(identity)
	if patch.Email != nil {
		rec.Email = *patch.Email
	}
	if patch.DeviceLabel != nil {
		rec.DeviceLabel = *patch.DeviceLabel
	}
	rec.LastSeen = time.Now()
	r.persistLocked(rec)

	return r.snapshotLocked(rec)
}

// GetRecord returns a snapshot of the record for an identity, or nil if
// the identity has never been seen.
func (r *Registry) GetRecord(identity string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[identity]
	if !ok {
		return nil
	}
	return r.snapshotLocked(rec)
}

// ListRecords returns snapshots of all known records.
func (r *Registry) ListRecords() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, r.snapshotLocked(rec))
	}
	return records
}

// recordLocked returns the mutable record for an identity, creating it
// if needed. Caller holds the write lock.
func (r *Registry) recordLocked(identity string) *Record {
	rec, ok := r.records[identity]
	if !ok {
		rec = &Record{Identity: identity}
		r.records[identity] = rec
	}
	return rec
}

// snapshotLocked copies a record with Online derived from the live map.
// Caller holds at least the read lock.
func (r *Registry) snapshotLocked(rec *Record) *Record {
	snapshot := *rec
	_, snapshot.Online = r.conns[rec.Identity]
	return &snapshot
}

// persistLocked writes a record through to the store. Persistence
// failures are logged, not propagated: the in-memory record is the
// operative copy.
func (r *Registry) persistLocked(rec *Record) {
	if r.recordStore == nil {
		return
	}
	err := r.recordStore.SaveDeviceRecord(context.Background(), &store.DeviceRecord{
		Identity:    rec.Identity,
		Email:       rec.Email,
		DeviceLabel: rec.DeviceLabel,
		LastSeen:    rec.LastSeen,
	})
	if err != nil {
		r.logger.Error("persisting device record", "identity", rec.Identity, "error", err)
	}
}
