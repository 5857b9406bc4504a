// Package store provides persistence for drivenet-gateway.
//
// # Overview
//
// The gateway itself is a relay: almost all of its state (live
// connections, pending requests) is in-memory and dies with the process.
// What persists is the small amount of state a client wants back after a
// restart:
//
//   - DeviceRecord: the last-known desktop agent per identity, so the web
//     UI can show "Office PC, last seen Tuesday" while the agent is offline
//   - TunnelEvent: an audit trail of connects, disconnects, and rejected
//     handshakes
//
// # Implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL mode.
// The schema is created automatically on open. ":memory:" is supported
// for tests.
package store
