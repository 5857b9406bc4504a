// Package gateway orchestrates the drivenet-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns
// the WebSocket tunnel acceptor for desktop agents, the authenticated
// HTTP proxy API for clients, the agent registry, and the backing store.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/auth/login - Exchange a Google credential for a gateway token
//   - GET /api/me/agent - The caller's last-known device record
//   - GET /api/fs/list - List a directory on the caller's agent
//   - POST /api/fs/folder - Create a directory
//   - DELETE /api/fs/delete - Delete a file or directory
//   - GET /api/fs/stats - Agent system stats
//   - GET /api/fs/download - Stream a file from the agent
//   - GET /api/fs/thumbnail - Stream a thumbnail
//   - GET /api/fs/stream - Stream media with range support
//   - POST /api/fs/upload_chunk - Upload one chunk of a large file
//   - POST /api/fs/upload - Upload a small file in one shot
//   - GET /tunnel - WebSocket upgrade endpoint for agents
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # Request relay
//
// Each /api/fs route relays to an action on the caller's own agent; the
// target identity always comes from the verified token. The request body,
// query string, and original headers are merged into one payload object
// (precedence body < query) and dispatched through the tunnel broker.
// Streaming routes pipe the agent's start/chunk/end frames straight to
// the HTTP response; upload routes await a single JSON value.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run shuts the HTTP server down with a bounded timeout when its context
// is canceled. With tailscale.enabled the gateway joins a tailnet via
// tsnet instead of binding a local TCP port, optionally with HTTPS or
// public Funnel exposure.
package gateway
