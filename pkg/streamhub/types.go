// Package streamhub multiplexes run execution events to multiple
// subscribers over SSE and WebSocket transports.
//
// Grounded on pkg/events (ConnectionManager's connection/channel
// registries, subscribe/unsubscribe, and coder/websocket transport),
// generalized from session-scoped pub/sub channels to per-run fan-out
// with sequence-numbered ordering and bounded per-subscriber buffers.
package streamhub

import (
	"errors"
	"time"
)

// Event types carried end-to-end, per spec.md §4.5/§6.
const (
	EventStart    = "start"
	EventToken    = "token"
	EventChunk    = "chunk"
	EventToolCall = "tool_call"
	EventToolRes  = "tool_result"
	EventThinking = "thinking"
	EventProgress = "progress"
	EventError    = "error"
	EventDone     = "done"
	EventMetadata = "metadata"
)

// Sentinel errors.
var (
	// ErrSubscriberBufferFull indicates a subscriber could not keep up
	// and was disconnected rather than stalling the publisher.
	ErrSubscriberBufferFull = errors.New("subscriber buffer full")
)

// Event is one published run event. Its wire form matches spec.md §6's
// SSE/WebSocket payload shape: {type, data, timestamp, seq, requestId}.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int       `json:"seq"`
	RequestID string    `json:"requestId,omitempty"`
}

// Config tunes Hub behavior.
type Config struct {
	SubscriberBuffer int           // per-subscriber channel capacity
	SSEKeepalive     time.Duration // comment-frame interval for idle SSE connections
	WSPingInterval   time.Duration // server ping interval
	WSPongTimeout    time.Duration // max silence before a WS client is terminated
}

// DefaultConfig matches spec.md §4.5/§6's constants: a 15s SSE
// keepalive, 30s server pings, and a 60s pong timeout.
func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: 64,
		SSEKeepalive:     15 * time.Second,
		WSPingInterval:   30 * time.Second,
		WSPongTimeout:    60 * time.Second,
	}
}
