// ABOUTME: Error taxonomy for the tunnel broker
// ABOUTME: Sentinel errors plus mapping to HTTP status codes

package tunnel

import (
	"errors"
	"net/http"
)

// Broker errors
var (
	// ErrAgentOffline means no live connection exists for the target
	// identity. The broker never queues; retry is the caller's policy.
	ErrAgentOffline = errors.New("agent is offline")

	// ErrTimeout means the agent produced no activity for a request
	// within the configured window.
	ErrTimeout = errors.New("agent response timeout")
)

// RemoteError wraps an error message the agent explicitly reported in its
// response envelope.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// HTTPStatus maps a broker error to the status code surfaced to clients:
// 503 for an offline agent, 504 for a timeout, 500 for relayed remote
// errors and internal faults.
func HTTPStatus(err error) int {
	var remote *RemoteError
	switch {
	case errors.Is(err, ErrAgentOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
