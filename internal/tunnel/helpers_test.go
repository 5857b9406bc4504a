// ABOUTME: Shared test fakes for the tunnel package
// ABOUTME: In-memory transport and record store used across registry/broker tests

package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drivenet/drivenet-gateway/internal/store"
)

// fakeTransport implements the transport interface in memory.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*RelayMessage
	writeErr error
	closed   bool
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {} // broker tests never read
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if msg, ok := v.(*RelayMessage); ok {
		f.sent = append(f.sent, msg)
	}
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeTransport) SetReadLimit(limit int64)           {}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentMessages() []*RelayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*RelayMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeRecordStore captures write-through persistence calls.
type fakeRecordStore struct {
	mu    sync.Mutex
	saved map[string]*store.DeviceRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{saved: make(map[string]*store.DeviceRecord)}
}

func (f *fakeRecordStore) SaveDeviceRecord(_ context.Context, rec *store.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.saved[rec.Identity] = &copied
	return nil
}

func (f *fakeRecordStore) ListDeviceRecords(_ context.Context) ([]*store.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.DeviceRecord
	for _, rec := range f.saved {
		copied := *rec
		out = append(out, &copied)
	}
	return out, nil
}

func testConn(identity, email string) (*Conn, *fakeTransport) {
	ft := &fakeTransport{}
	return NewConn(identity, email, ft, slog.Default()), ft
}

func testRegistry() *Registry {
	return NewRegistry(nil, slog.Default())
}
