// ABOUTME: Reference desktop agent that serves a local directory through a gateway tunnel.
// ABOUTME: Usage: drivenet-agent -gateway ws://localhost:8080/tunnel -token TOKEN -root ~/files

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

func main() {
	gatewayURL := flag.String("gateway", "ws://localhost:8080/tunnel", "Gateway tunnel URL")
	token := flag.String("token", os.Getenv("DRIVENET_TOKEN"), "Bearer token (or DRIVENET_TOKEN env)")
	root := flag.String("root", ".", "Directory to serve")
	device := flag.String("device", defaultDeviceLabel(), "Device label shown to clients")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *token == "" {
		logger.Error("a token is required (use -token or DRIVENET_TOKEN)")
		os.Exit(1)
	}

	rootDir, err := os.Stat(*root)
	if err != nil || !rootDir.IsDir() {
		logger.Error("root is not a directory", "root", *root)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	agent := &agent{
		fs:     &fileServer{root: *root},
		logger: logger,
	}
	agent.run(ctx, *gatewayURL, *token, *device)
}

func defaultDeviceLabel() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "drivenet-agent"
	}
	return hostname
}

type agent struct {
	fs     *fileServer
	logger *slog.Logger

	mu sync.Mutex // serializes writes to the socket
	ws *websocket.Conn
}

// run dials the gateway and serves requests, reconnecting with capped
// exponential backoff until the context is canceled.
func (a *agent) run(ctx context.Context, gatewayURL, token, device string) {
	backoff := initialBackoff

	for ctx.Err() == nil {
		err := a.serveOnce(ctx, gatewayURL, token, device)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.logger.Warn("tunnel lost", "error", err, "retry_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// serveOnce runs one tunnel session: dial, then answer relay messages
// until the connection drops.
func (a *agent) serveOnce(ctx context.Context, gatewayURL, token, device string) error {
	dialURL := gatewayURL + "?device=" + url.QueryEscape(device)
	header := http.Header{"Authorization": {"Bearer " + token}}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, dialURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing gateway: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer ws.Close()

	a.mu.Lock()
	a.ws = ws
	a.mu.Unlock()

	a.logger.Info("tunnel established", "gateway", gatewayURL, "device", device)

	// Close the socket when the context ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			RequestID string         `json:"requestId"`
			Action    string         `json:"action"`
			Payload   map[string]any `json:"payload"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				return fmt.Errorf("gateway closed tunnel: %s", closeErr.Text)
			}
			return err
		}
		if msg.RequestID == "" {
			continue
		}

		// Requests are independent; a slow download must not block a
		// directory listing.
		go a.handle(msg.RequestID, msg.Action, msg.Payload)
	}
}

// handle runs one action and sends its response frames.
func (a *agent) handle(requestID, action string, payload map[string]any) {
	a.logger.Debug("request", "request_id", requestID, "action", action)

	var err error
	switch action {
	case "fs:list":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.list(payload) })
	case "fs:mkdir":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.mkdir(payload) })
	case "fs:delete":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.remove(payload) })
	case "sys:stats":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.stats() })
	case "fs:upload":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.upload(payload) })
	case "fs:upload_chunk":
		err = a.respondValue(requestID, func() (any, error) { return a.fs.uploadChunk(payload) })
	case "fs:download", "fs:thumbnail":
		err = a.fs.download(payload, a.streamer(requestID))
	case "fs:stream":
		err = a.fs.stream(payload, a.streamer(requestID))
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		a.sendError(requestID, err)
	}
}

// respondValue evaluates fn and sends its result as a single JSON payload.
func (a *agent) respondValue(requestID string, fn func() (any, error)) error {
	result, err := fn()
	if err != nil {
		return err
	}
	return a.send(map[string]any{"requestId": requestID, "payload": result})
}

// streamer returns the frame writer for a streaming response.
func (a *agent) streamer(requestID string) *frameWriter {
	return &frameWriter{requestID: requestID, send: a.send}
}

func (a *agent) sendError(requestID string, err error) {
	a.logger.Warn("request failed", "request_id", requestID, "error", err)
	sendErr := a.send(map[string]any{"requestId": requestID, "error": err.Error()})
	if sendErr != nil {
		a.logger.Warn("could not deliver error", "request_id", requestID, "error", sendErr)
	}
}

func (a *agent) send(v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ws == nil {
		return fmt.Errorf("no tunnel")
	}
	return a.ws.WriteJSON(v)
}

// frameWriter emits start/chunk/end frames for one request.
type frameWriter struct {
	requestID string
	send      func(any) error
}

func (f *frameWriter) start(statusCode int, headers map[string]string) error {
	return f.send(map[string]any{
		"requestId": f.requestID,
		"payload":   map[string]any{"type": "start", "statusCode": statusCode, "headers": headers},
	})
}

func (f *frameWriter) chunk(data string) error {
	return f.send(map[string]any{
		"requestId": f.requestID,
		"payload":   map[string]any{"type": "chunk", "data": data},
	})
}

func (f *frameWriter) end() error {
	return f.send(map[string]any{
		"requestId": f.requestID,
		"payload":   map[string]any{"type": "end"},
	})
}

// stringField reads an optional string out of a payload map.
func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
