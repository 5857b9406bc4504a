// ABOUTME: Tests for wire protocol envelope decoding
// ABOUTME: Covers the frame/non-frame discrimination contract

package tunnel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *StreamFrame
	}{
		{
			name:    "start frame",
			payload: `{"type":"start","statusCode":206,"headers":{"Range":"bytes"}}`,
			want:    &StreamFrame{Type: FrameStart, StatusCode: 206, Headers: map[string]string{"Range": "bytes"}},
		},
		{
			name:    "chunk frame",
			payload: `{"type":"chunk","data":"aGk="}`,
			want:    &StreamFrame{Type: FrameChunk, Data: "aGk="},
		},
		{
			name:    "end frame",
			payload: `{"type":"end"}`,
			want:    &StreamFrame{Type: FrameEnd},
		},
		{
			name:    "object without discriminator is a plain payload",
			payload: `{"files":["a.txt"]}`,
			want:    nil,
		},
		{
			name:    "unknown discriminator is a plain payload",
			payload: `{"type":"heartbeat"}`,
			want:    nil,
		},
		{
			name:    "string payload",
			payload: `"aGVsbG8="`,
			want:    nil,
		},
		{
			name:    "array payload",
			payload: `[1,2,3]`,
			want:    nil,
		},
		{
			name:    "empty payload",
			payload: ``,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFrame(json.RawMessage(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame_SizePointer(t *testing.T) {
	frame := DecodeFrame(json.RawMessage(`{"type":"start","filename":"a.bin","size":42}`))
	require.NotNil(t, frame)
	require.NotNil(t, frame.Size)
	assert.Equal(t, int64(42), *frame.Size)

	frame = DecodeFrame(json.RawMessage(`{"type":"start"}`))
	require.NotNil(t, frame)
	assert.Nil(t, frame.Size, "absent size stays nil so defaults can tell it apart from zero")
}

func TestRelayMessageJSON(t *testing.T) {
	msg := &RelayMessage{
		RequestID: "req-1",
		Action:    "fs:list",
		Payload:   map[string]any{"path": "/"},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"req-1","action":"fs:list","payload":{"path":"/"}}`, string(data))
}
