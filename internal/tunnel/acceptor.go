// ABOUTME: WebSocket acceptor authenticating and binding agent tunnels
// ABOUTME: CONNECTING -> AUTHENTICATING -> BOUND lifecycle; policy-violation close on auth failure

package tunnel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/drivenet/drivenet-gateway/internal/auth"
	"github.com/drivenet/drivenet-gateway/internal/store"
)

// EventLogger records tunnel lifecycle events for auditing.
type EventLogger interface {
	LogTunnelEvent(ctx context.Context, event *store.TunnelEvent) error
}

// Acceptor upgrades incoming agent connections, authenticates them, and
// runs the read loop that feeds response envelopes to the broker.
type Acceptor struct {
	registry *Registry
	broker   *Broker
	verifier auth.TokenVerifier
	audit    EventLogger // may be nil

	maxMessageBytes int64
	upgrader        websocket.Upgrader
	logger          *slog.Logger
}

// NewAcceptor creates an acceptor. audit may be nil to disable the event log.
func NewAcceptor(registry *Registry, broker *Broker, verifier auth.TokenVerifier, audit EventLogger, maxMessageBytes int64, logger *slog.Logger) *Acceptor {
	return &Acceptor{
		registry: registry,
		broker:   broker,
		verifier: verifier,
		audit:    audit,

		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			// Agents are not browsers; origin enforcement adds nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles the upgrade handshake for GET /tunnel.
//
// The credential is checked after the upgrade so the agent receives a
// proper close frame with a policy-violation code rather than a bare
// HTTP error it cannot distinguish from a network fault.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade failed", "error", err)
		return
	}

	if token == "" {
		a.reject(ws, "", "Token missing")
		return
	}

	claims, err := a.verifier.Verify(token)
	if err != nil {
		a.reject(ws, "", "Invalid token")
		return
	}

	identity, err := claims.Identity()
	if err != nil {
		a.reject(ws, "", "Identity Error")
		return
	}

	conn := NewConn(identity, claims.Email, ws, a.logger.With("identity", identity))
	a.serve(conn, r.URL.Query().Get("device"))
}

// bearerToken extracts the agent credential from the upgrade request.
// Agents send an Authorization header; a token query parameter is
// accepted for transports that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// reject closes a never-bound connection with a policy violation code.
func (a *Acceptor) reject(ws *websocket.Conn, identity, reason string) {
	a.logger.Warn("agent connection rejected", "reason", reason)
	a.logEvent(identity, store.EventRejected, reason)

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
	_ = ws.Close()
}

// serve binds an authenticated connection and pumps its messages until
// the peer goes away.
func (a *Acceptor) serve(conn *Conn, deviceLabel string) {
	if superseded := a.registry.Register(conn); superseded != nil {
		// A newer login for the same identity replaces the old tunnel.
		// Close the stale socket so its agent reconnects cleanly instead
		// of holding a half-dead connection.
		a.logger.Info("superseding previous connection", "identity", conn.Identity)
		a.logEvent(conn.Identity, store.EventSuperseded, "replaced by newer connection")
		_ = superseded.Close(websocket.CloseGoingAway, "superseded by newer connection")
	}
	a.logEvent(conn.Identity, store.EventConnected, conn.Email)
	if deviceLabel != "" {
		a.registry.RecordSeen(conn.Identity, RecordPatch{DeviceLabel: &deviceLabel})
	}

	defer func() {
		a.registry.Unregister(conn)
		a.logEvent(conn.Identity, store.EventDisconnected, "")
	}()

	conn.ws.SetReadLimit(a.maxMessageBytes)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("tunnel read error", "error", err)
			}
			return
		}

		var resp AgentResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			// Agents may emit non-protocol traffic (keepalives); drop it.
			continue
		}
		if resp.RequestID == "" {
			continue
		}

		a.broker.HandleResponse(conn.Identity, &resp)
	}
}

// logEvent writes to the audit log, best-effort.
func (a *Acceptor) logEvent(identity, event, detail string) {
	if a.audit == nil {
		return
	}
	err := a.audit.LogTunnelEvent(context.Background(), &store.TunnelEvent{
		Identity: identity,
		Event:    event,
		Detail:   detail,
	})
	if err != nil {
		a.logger.Error("writing tunnel event", "event", event, "error", err)
	}
}
