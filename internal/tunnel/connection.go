// ABOUTME: Represents a single connected desktop agent and its websocket
// ABOUTME: Serializes writes; gorilla permits only one concurrent writer

package tunnel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 30 * time.Second

// transport is the subset of *websocket.Conn the tunnel relies on,
// narrowed so tests can swap in a fake.
type transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Conn is the live transport handle for one agent identity. At most one
// Conn per identity is held by the Registry at a time.
type Conn struct {
	Identity string
	Email    string

	ws     transport
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

// NewConn wraps an upgraded websocket for a verified identity.
func NewConn(identity, email string, ws transport, logger *slog.Logger) *Conn {
	return &Conn{
		Identity: identity,
		Email:    email,
		ws:       ws,
		logger:   logger,
	}
}

// Send transmits a RelayMessage to the agent. The write blocks until the
// transport accepts the frame, which backpressures dispatchers on a slow
// agent link.
func (c *Conn) Send(msg *RelayMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

// Close sends a close frame with the given code and reason, then closes
// the socket. Safe to call more than once.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("writing close frame", "error", err)
	}
	return c.ws.Close()
}
