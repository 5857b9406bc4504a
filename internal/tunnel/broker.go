// ABOUTME: Request correlator multiplexing many in-flight requests over one tunnel per agent
// ABOUTME: Tracks pending requests by uuid, arms per-request timeouts, routes response frames to sinks

package tunnel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broker correlates outbound relay messages with the response frames that
// eventually come back over an agent's tunnel.
//
// A pending request reaches exactly one terminal outcome: delivered,
// failed with a remote error, or timed out. Removal from the pending
// table happens under the lock, so a response racing the timeout cannot
// resolve the same sink twice. Frames for an unknown requestId are
// discarded without error; they are late, duplicate, or fabricated.
type Broker struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	identity  string
	sink      ResponseSink
	createdAt time.Time
	timer     *time.Timer
}

// NewBroker creates a broker dispatching through the given registry.
func NewBroker(registry *Registry, timeout time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]*pendingRequest),
	}
}

// Dispatch sends an action to the agent for identity and registers sink
// as the destination for the response. It fails fast with ErrAgentOffline
// when no live connection exists; nothing is queued and no pending entry
// is created. On success the request is armed with the broker timeout.
//
// The timer restarts on every response frame, so a transfer that is
// actively streaming never times out mid-flight; only total silence
// fails a request.
func (b *Broker) Dispatch(identity, action string, payload map[string]any, sink ResponseSink) (string, error) {
	conn, ok := b.registry.Get(identity)
	if !ok {
		return "", ErrAgentOffline
	}

	requestID := uuid.New().String()

	b.mu.Lock()
	b.pending[requestID] = &pendingRequest{
		identity:  identity,
		sink:      sink,
		createdAt: time.Now(),
		timer:     time.AfterFunc(b.timeout, func() { b.expire(requestID) }),
	}
	b.mu.Unlock()

	msg := &RelayMessage{RequestID: requestID, Action: action, Payload: payload}
	if err := conn.Send(msg); err != nil {
		b.remove(requestID)
		return "", fmt.Errorf("sending to agent: %w", err)
	}

	b.logger.Debug("request dispatched",
		"identity", identity,
		"request_id", requestID,
		"action", action,
	)
	return requestID, nil
}

// ForwardRequest dispatches an action and awaits the single-value reply.
// This is the promise-sink path used by call sites that build a JSON
// result instead of piping a stream.
func (b *Broker) ForwardRequest(ctx context.Context, identity, action string, payload map[string]any) (json.RawMessage, error) {
	sink := NewPromiseSink()
	if _, err := b.Dispatch(identity, action, payload, sink); err != nil {
		return nil, err
	}
	return sink.Await(ctx)
}

// HandleResponse routes one response envelope from an agent's tunnel.
// identity is the verified identity of the connection the envelope
// arrived on; an envelope naming another identity's request is discarded.
func (b *Broker) HandleResponse(identity string, resp *AgentResponse) {
	b.mu.Lock()
	p, ok := b.pending[resp.RequestID]
	if !ok || p.identity != identity {
		b.mu.Unlock()
		b.logger.Debug("discarding response for unknown request",
			"request_id", resp.RequestID,
			"identity", identity,
		)
		return
	}

	if resp.Error != "" {
		b.removeLocked(resp.RequestID, p)
		b.mu.Unlock()
		p.sink.Fail(&RemoteError{Message: resp.Error})
		return
	}

	if frame := DecodeFrame(resp.Payload); frame != nil {
		b.handleFrame(resp.RequestID, p, frame)
		return
	}

	b.removeLocked(resp.RequestID, p)
	b.mu.Unlock()

	if resp.IsFile {
		b.deliverLegacyFile(p, resp)
		return
	}

	// Plain JSON value: the payload is the whole response body.
	p.sink.Start(200, map[string]string{"Content-Type": "application/json"})
	if err := p.sink.Chunk(resp.Payload); err != nil {
		b.logger.Debug("client gone before response delivery", "request_id", resp.RequestID)
		return
	}
	p.sink.End()
}

// handleFrame advances a streaming response. Called with the lock held;
// releases it before touching the sink.
func (b *Broker) handleFrame(requestID string, p *pendingRequest, frame *StreamFrame) {
	switch frame.Type {
	case FrameStart:
		p.timer.Reset(b.timeout)
		b.mu.Unlock()

		status := frame.StatusCode
		if status == 0 {
			status = 200
		}
		headers := frame.Headers
		if headers == nil {
			headers = attachmentHeaders(frame.Filename, frame.Size)
		}
		p.sink.Start(status, headers)

	case FrameChunk:
		p.timer.Reset(b.timeout)
		b.mu.Unlock()

		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			b.logger.Warn("undecodable chunk, abandoning request", "request_id", requestID)
			b.remove(requestID)
			p.sink.Fail(&RemoteError{Message: "agent sent undecodable chunk"})
			return
		}
		if err := p.sink.Chunk(data); err != nil {
			// Client disconnected mid-stream. The agent keeps producing;
			// its remaining frames will miss the table and be discarded.
			b.logger.Debug("client gone mid-stream, abandoning request", "request_id", requestID)
			b.remove(requestID)
		}

	case FrameEnd:
		b.removeLocked(requestID, p)
		b.mu.Unlock()
		p.sink.End()
	}
}

// deliverLegacyFile handles the backward-compatible non-streaming file
// path: the whole payload is one base64 JSON string.
func (b *Broker) deliverLegacyFile(p *pendingRequest, resp *AgentResponse) {
	var encoded string
	if err := json.Unmarshal(resp.Payload, &encoded); err != nil {
		p.sink.Fail(&RemoteError{Message: "agent sent undecodable file payload"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		p.sink.Fail(&RemoteError{Message: "agent sent undecodable file payload"})
		return
	}

	size := int64(len(data))
	p.sink.Start(200, attachmentHeaders(resp.Filename, &size))
	if err := p.sink.Chunk(data); err != nil {
		return
	}
	p.sink.End()
}

// attachmentHeaders builds the default download headers used when an
// agent does not supply its own.
func attachmentHeaders(filename string, size *int64) map[string]string {
	if filename == "" {
		filename = "download.bin"
	}
	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + filename + `"`,
		"Content-Type":        "application/octet-stream",
	}
	if size != nil {
		headers["Content-Length"] = strconv.FormatInt(*size, 10)
	}
	return headers
}

// Abandon drops a pending request whose consumer has gone away, e.g. an
// HTTP client that disconnected mid-stream. The agent keeps producing;
// its remaining frames miss the table and are discarded.
func (b *Broker) Abandon(requestID string) {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}
	b.removeLocked(requestID, p)
	b.mu.Unlock()

	b.logger.Debug("request abandoned by consumer", "request_id", requestID)
}

// expire fires when a request's timer elapses. If the entry is already
// gone the response won the race and this is a no-op.
func (b *Broker) expire(requestID string) {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, requestID)
	b.mu.Unlock()

	b.logger.Warn("request timed out",
		"request_id", requestID,
		"identity", p.identity,
		"age", time.Since(p.createdAt),
	)
	p.sink.Fail(ErrTimeout)
}

// remove drops a pending entry and stops its timer.
func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[requestID]; ok {
		b.removeLocked(requestID, p)
	}
}

// removeLocked drops a pending entry. Caller holds the lock.
func (b *Broker) removeLocked(requestID string, p *pendingRequest) {
	p.timer.Stop()
	delete(b.pending, requestID)
}

// PendingCount returns the number of in-flight requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
