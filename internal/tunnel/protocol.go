// ABOUTME: Wire protocol envelopes for the agent tunnel
// ABOUTME: JSON relay messages, agent responses, and the start/chunk/end stream frames

package tunnel

import (
	"encoding/json"
)

// RelayMessage is the request-direction envelope sent to an agent over its
// tunnel. Payload is opaque to the broker: the merged request body, query,
// and path parameters plus an echo of the original headers.
type RelayMessage struct {
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
}

// AgentResponse is the response-direction envelope from an agent. Exactly
// one of Error or Payload is meaningful. Payload is either a StreamFrame,
// a base64 file body (when IsFile is set, the legacy single-shot path), or
// a plain JSON value delivered as the whole response body.
type AgentResponse struct {
	RequestID string          `json:"requestId"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IsFile    bool            `json:"isFile,omitempty"`
	Filename  string          `json:"filename,omitempty"`
}

// Stream frame discriminator values
const (
	FrameStart = "start"
	FrameChunk = "chunk"
	FrameEnd   = "end"
)

// StreamFrame is the discriminated sub-message used to deliver large or
// incrementally produced payloads without buffering them in memory.
// Chunk data is base64 since the envelope is JSON.
type StreamFrame struct {
	Type       string            `json:"type"`
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Filename   string            `json:"filename,omitempty"`
	Size       *int64            `json:"size,omitempty"`
	Data       string            `json:"data,omitempty"`
}

// DecodeFrame interprets a response payload as a StreamFrame. It returns
// nil when the payload is not a frame, in which case the payload is a
// plain JSON value to deliver in one piece. Absence of the discriminator
// is the compatibility contract with older agents.
func DecodeFrame(payload json.RawMessage) *StreamFrame {
	if len(payload) == 0 || payload[0] != '{' {
		return nil
	}

	var frame StreamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil
	}

	switch frame.Type {
	case FrameStart, FrameChunk, FrameEnd:
		return &frame
	default:
		return nil
	}
}
