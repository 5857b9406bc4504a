// ABOUTME: HTTP API handlers for the proxy gateway
// ABOUTME: Login exchange, device info, and the /api/fs proxy routes relayed to agents

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/drivenet/drivenet-gateway/internal/auth"
	"github.com/drivenet/drivenet-gateway/internal/tunnel"
)

// LoginRequest is the JSON request body for POST /api/auth/login.
type LoginRequest struct {
	Credential string `json:"credential"`
}

// LoginResponse is the JSON response for POST /api/auth/login.
type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// AgentInfoResponse is the JSON response for GET /api/me/agent.
type AgentInfoResponse struct {
	AgentID  string `json:"agentId"`
	Email    string `json:"email"`
	Device   string `json:"device,omitempty"`
	Online   bool   `json:"online"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// proxyRoute binds one HTTP route to the agent action it relays.
type proxyRoute struct {
	method  string
	path    string
	action  string
	forward bool // deliver via ForwardRequest instead of piping the stream
}

// proxyRoutes is the /api/fs surface. Streaming routes pipe the agent's
// frames straight to the client; forward routes await a single JSON value.
var proxyRoutes = []proxyRoute{
	{http.MethodGet, "/api/fs/list", "fs:list", false},
	{http.MethodPost, "/api/fs/folder", "fs:mkdir", false},
	{http.MethodDelete, "/api/fs/delete", "fs:delete", false},
	{http.MethodGet, "/api/fs/stats", "sys:stats", false},
	{http.MethodGet, "/api/fs/download", "fs:download", false},
	{http.MethodGet, "/api/fs/thumbnail", "fs:thumbnail", false},
	{http.MethodGet, "/api/fs/stream", "fs:stream", false},
	{http.MethodPost, "/api/fs/upload_chunk", "fs:upload_chunk", true},
	{http.MethodPost, "/api/fs/upload", "fs:upload", true},
}

// registerRoutes attaches the full HTTP surface to the mux. Health and
// login are open; everything else sits behind the auth middleware.
func (g *Gateway) registerRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/auth/login", g.handleLogin)

	authMiddleware := auth.HTTPAuthMiddleware(verifier)
	mux.Handle("/tunnel", g.acceptor)
	mux.Handle("/api/me/agent", authMiddleware(http.HandlerFunc(g.handleMyAgent)))
	for _, route := range proxyRoutes {
		mux.Handle(route.path, authMiddleware(g.proxyHandler(route)))
	}
}

// handleLogin handles POST /api/auth/login: exchanges a Google credential
// (or a dev-bypass string) for a gateway token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := g.login.Login(r.Context(), req.Credential)
	switch {
	case errors.Is(err, auth.ErrEmailNotAllowed):
		g.logger.Warn("login rejected by allowlist")
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		g.logger.Warn("login failed", "error", err)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	g.logger.Info("user logged in", "email", result.Email)
	writeJSON(w, http.StatusOK, LoginResponse{Token: result.Token, Email: result.Email})
}

// handleMyAgent handles GET /api/me/agent: the caller's last-known device
// record with online status derived from the live connection table.
func (g *Gateway) handleMyAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	record := g.registry.GetRecord(authCtx.Identity)
	if record == nil {
		writeError(w, http.StatusNotFound, "no agent has connected for this account")
		return
	}

	resp := AgentInfoResponse{
		AgentID: record.Identity,
		Email:   record.Email,
		Device:  record.DeviceLabel,
		Online:  record.Online,
	}
	if !record.LastSeen.IsZero() {
		resp.LastSeen = record.LastSeen.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// proxyHandler builds the handler relaying one route to the caller's
// agent. The target identity always comes from the verified token, never
// from request parameters.
func (g *Gateway) proxyHandler(route proxyRoute) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != route.method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		authCtx := auth.FromContext(r.Context())
		if authCtx == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		payload := buildPayload(r)

		if route.forward {
			result, err := g.broker.ForwardRequest(r.Context(), authCtx.Identity, route.action, payload)
			if err != nil {
				writeError(w, tunnel.HTTPStatus(err), err.Error())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result)
			return
		}

		sink := tunnel.NewStreamSink(w)
		requestID, err := g.broker.Dispatch(authCtx.Identity, route.action, payload, sink)
		if err != nil {
			// Offline agents fail here before any pending state exists.
			writeError(w, tunnel.HTTPStatus(err), err.Error())
			return
		}

		// The agent's frames drive the response from here. Block until the
		// sink reaches a terminal state or the client goes away; returning
		// earlier would let the handler close the response mid-stream.
		sink.Wait(r.Context())

		if r.Context().Err() != nil {
			// Client disconnected mid-stream. Seal the sink before this
			// handler returns so a racing frame cannot write to a dead
			// response writer, then drop the pending entry.
			sink.Abandon()
			g.broker.Abandon(requestID)
		}
	})
}

// buildPayload merges the request into one payload object for the agent.
// Later sources win on key collision; the precedence is body < query <
// path values, and the original headers ride along under "headers".
func buildPayload(r *http.Request) map[string]any {
	payload := make(map[string]any)

	if r.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for k, v := range body {
				payload[k] = v
			}
		}
	}

	for key, values := range r.URL.Query() {
		if key == "token" {
			// The query-param credential is transport plumbing, not payload.
			continue
		}
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		if key == "Authorization" {
			continue
		}
		headers[key] = r.Header.Get(key)
	}
	payload["headers"] = headers

	return payload
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness: at least one agent tunnel must be
// bound.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	records := g.registry.ListRecords()
	online := 0
	for _, rec := range records {
		if rec.Online {
			online++
		}
	}
	if online == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a machine-readable JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
