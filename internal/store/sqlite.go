// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides device record and tunnel event persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS device_records (
			identity     TEXT PRIMARY KEY,
			email        TEXT NOT NULL,
			device_label TEXT NOT NULL DEFAULT '',
			last_seen    DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tunnel_events (
			id         TEXT PRIMARY KEY,
			identity   TEXT NOT NULL,
			event      TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tunnel_events_identity
			ON tunnel_events(identity, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveDeviceRecord inserts or replaces the record for an identity.
func (s *SQLiteStore) SaveDeviceRecord(ctx context.Context, rec *DeviceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_records (identity, email, device_label, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			email = excluded.email,
			device_label = excluded.device_label,
			last_seen = excluded.last_seen
	`, rec.Identity, rec.Email, rec.DeviceLabel, rec.LastSeen.UTC())
	if err != nil {
		return fmt.Errorf("saving device record: %w", err)
	}
	return nil
}

// GetDeviceRecord returns the record for an identity, or ErrNotFound.
func (s *SQLiteStore) GetDeviceRecord(ctx context.Context, identity string) (*DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, email, device_label, last_seen
		FROM device_records WHERE identity = ?
	`, identity)

	rec := &DeviceRecord{}
	err := row.Scan(&rec.Identity, &rec.Email, &rec.DeviceLabel, &rec.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading device record: %w", err)
	}
	return rec, nil
}

// ListDeviceRecords returns all known device records ordered by last_seen.
func (s *SQLiteStore) ListDeviceRecords(ctx context.Context) ([]*DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, email, device_label, last_seen
		FROM device_records ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing device records: %w", err)
	}
	defer rows.Close()

	var records []*DeviceRecord
	for rows.Next() {
		rec := &DeviceRecord{}
		if err := rows.Scan(&rec.Identity, &rec.Email, &rec.DeviceLabel, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning device record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LogTunnelEvent appends an entry to the tunnel audit log.
// A missing ID or timestamp is filled in.
func (s *SQLiteStore) LogTunnelEvent(ctx context.Context, event *TunnelEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tunnel_events (id, identity, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.Identity, event.Event, event.Detail, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("logging tunnel event: %w", err)
	}
	return nil
}

// ListTunnelEvents returns the most recent events for an identity.
func (s *SQLiteStore) ListTunnelEvents(ctx context.Context, identity string, limit int) ([]*TunnelEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, event, detail, created_at
		FROM tunnel_events WHERE identity = ?
		ORDER BY created_at DESC LIMIT ?
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tunnel events: %w", err)
	}
	defer rows.Close()

	var events []*TunnelEvent
	for rows.Next() {
		ev := &TunnelEvent{}
		if err := rows.Scan(&ev.ID, &ev.Identity, &ev.Event, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tunnel event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
