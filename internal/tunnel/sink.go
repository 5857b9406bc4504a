// ABOUTME: Response sink abstraction unifying streamed HTTP delivery and awaited values
// ABOUTME: StreamSink writes into a live http.ResponseWriter; PromiseSink buffers for one caller

package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// ResponseSink is the destination an agent response is delivered to. The
// broker guarantees each sink reaches exactly one terminal state: End or
// Fail, never both.
//
// Start commits status and headers, Chunk appends body bytes, End
// finalizes. A Chunk error tells the broker the consumer is gone (e.g.
// the HTTP client disconnected) and the request should be abandoned.
type ResponseSink interface {
	Start(statusCode int, headers map[string]string)
	Chunk(data []byte) error
	End()
	Fail(err error)
}

// StreamSink adapts an http.ResponseWriter into a ResponseSink so agent
// stream frames are piped straight to the client without buffering.
type StreamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu       sync.Mutex
	started  bool
	done     bool
	finished chan struct{}
	once     sync.Once
}

// NewStreamSink wraps a response writer. Flushing is best-effort; not all
// writers support it.
func NewStreamSink(w http.ResponseWriter) *StreamSink {
	flusher, _ := w.(http.Flusher)
	return &StreamSink{w: w, flusher: flusher, finished: make(chan struct{})}
}

// Start commits the status code and headers. Headers cannot change after
// the first body byte, so a late error can no longer alter the status.
func (s *StreamSink) Start(statusCode int, headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.done {
		return
	}
	s.started = true

	for key, value := range headers {
		s.w.Header().Set(key, value)
	}
	s.w.WriteHeader(statusCode)
}

// Chunk writes body bytes to the client. The write blocks until the HTTP
// transport accepts the bytes, which is the backpressure bound on a fast
// agent feeding a slow client.
func (s *StreamSink) Chunk(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("response already finalized")
	}
	if !s.started {
		s.started = true
		s.w.WriteHeader(http.StatusOK)
	}

	if _, err := s.w.Write(data); err != nil {
		s.done = true
		s.once.Do(func() { close(s.finished) })
		return fmt.Errorf("writing to client: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// End finalizes the response.
func (s *StreamSink) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.once.Do(func() { close(s.finished) })
}

// Fail reports a terminal error. If no bytes have been sent the error is
// delivered as a JSON body with the mapped status code. Once streaming
// has begun the status is already committed and the connection is simply
// cut short; the client sees a truncated body.
func (s *StreamSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	defer s.once.Do(func() { close(s.finished) })

	if s.started {
		return
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(s.w).Encode(map[string]string{"error": err.Error()})
}

// Abandon seals the sink without touching the response writer. The HTTP
// handler calls it when the client goes away mid-stream: once Abandon
// returns, no frame can write through a handler that has already
// finished. Taking the mutex also waits out any Chunk currently writing.
func (s *StreamSink) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.once.Do(func() { close(s.finished) })
}

// Wait blocks until the sink reaches a terminal state or the context is
// done. HTTP handlers use it to keep the response writer alive while the
// agent's frames drive the stream.
func (s *StreamSink) Wait(ctx context.Context) {
	select {
	case <-s.finished:
	case <-ctx.Done():
	}
}

// PromiseSink collects a response for a caller awaiting a single value
// instead of a live stream. Frames are accumulated and resolved on End;
// the usual case is a plain JSON payload delivered in one Chunk.
type PromiseSink struct {
	mu   sync.Mutex
	buf  []byte
	done chan struct{}
	once sync.Once

	result json.RawMessage
	err    error
}

// NewPromiseSink creates an unresolved promise sink.
func NewPromiseSink() *PromiseSink {
	return &PromiseSink{done: make(chan struct{})}
}

// Start is a no-op: status and headers have no meaning for an awaited value.
func (p *PromiseSink) Start(statusCode int, headers map[string]string) {}

// Chunk accumulates body bytes.
func (p *PromiseSink) Chunk(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	return nil
}

// End resolves the promise with the accumulated bytes.
func (p *PromiseSink) End() {
	p.once.Do(func() {
		p.mu.Lock()
		p.result = json.RawMessage(p.buf)
		p.mu.Unlock()
		close(p.done)
	})
}

// Fail rejects the promise.
func (p *PromiseSink) Fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise resolves or the context is done.
func (p *PromiseSink) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
