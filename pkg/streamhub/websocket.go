package streamhub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ClientMessage is the JSON structure for client -> server WebSocket
// frames, per spec.md §6: `{type, id?, payload?, timestamp}` with
// client message types subscribe/unsubscribe/ping (execute/cancel are
// handled by the orchestrator's HTTP surface, not this transport).
type ClientMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ServerMessage is the JSON structure for server -> client frames.
// Server message types: ack, event, error, pong.
type ServerMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Event     *Event `json:"event,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsSession tracks one client's active run subscriptions and fans
// every subscriber channel into a single outbound writer goroutine,
// mirroring pkg/events's ConnectionManager.Connection but generalized
// from one implicit channel per connection to many run subscriptions
// per connection.
type wsSession struct {
	hub      *Hub
	clientID string

	mu     sync.Mutex
	active map[string]context.CancelFunc // runID -> stop its forwarder goroutine

	outbound chan ServerMessage
}

// ServeWebSocket drives one WebSocket connection until it closes or
// ctx is cancelled. It pings every cfg.WSPingInterval and terminates
// the connection if a ping is not answered within cfg.WSPongTimeout —
// coder/websocket's Ping blocks until the control frame round-trips,
// so a context-bounded Ping doubles as the "silent client" timeout
// spec.md §6 describes.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, hub *Hub, clientID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &wsSession{
		hub:      hub,
		clientID: clientID,
		active:   make(map[string]context.CancelFunc),
		outbound: make(chan ServerMessage, hub.cfg.SubscriberBuffer),
	}
	defer s.stopAll()

	go s.writeLoop(ctx, conn)
	go s.pingLoop(ctx, conn, cancel)

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		s.handle(ctx, msg)
	}
}

func (s *wsSession) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		s.subscribe(ctx, msg.RunID)
		s.send(ServerMessage{Type: "ack", ID: msg.ID, RunID: msg.RunID, Timestamp: time.Now().Unix()})
	case "unsubscribe":
		s.unsubscribe(msg.RunID)
		s.send(ServerMessage{Type: "ack", ID: msg.ID, RunID: msg.RunID, Timestamp: time.Now().Unix()})
	case "ping":
		s.send(ServerMessage{Type: "pong", ID: msg.ID, Timestamp: time.Now().Unix()})
	default:
		s.send(ServerMessage{Type: "error", ID: msg.ID, Error: "unknown message type", Timestamp: time.Now().Unix()})
	}
}

func (s *wsSession) subscribe(ctx context.Context, runID string) {
	s.mu.Lock()
	if _, exists := s.active[runID]; exists {
		s.mu.Unlock()
		return
	}
	forwardCtx, forwardCancel := context.WithCancel(ctx)
	s.active[runID] = forwardCancel
	s.mu.Unlock()

	sub := s.hub.Subscribe(s.clientID, runID)
	go s.forward(forwardCtx, sub)
}

func (s *wsSession) unsubscribe(runID string) {
	s.mu.Lock()
	cancel, exists := s.active[runID]
	if exists {
		delete(s.active, runID)
	}
	s.mu.Unlock()
	if exists {
		cancel()
	}
	s.hub.Unsubscribe(s.clientID, runID)
}

func (s *wsSession) stopAll() {
	s.mu.Lock()
	runIDs := make([]string, 0, len(s.active))
	for runID, cancel := range s.active {
		cancel()
		runIDs = append(runIDs, runID)
	}
	s.active = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, runID := range runIDs {
		s.hub.Unsubscribe(s.clientID, runID)
	}
}

// forward relays one run's subscriber channel into the session's
// shared outbound channel until the subscription ends or ctx cancels.
func (s *wsSession) forward(ctx context.Context, sub *Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Ch:
			if !ok {
				return
			}
			e := evt
			s.send(ServerMessage{Type: "event", RunID: sub.RunID, Event: &e, Timestamp: time.Now().Unix()})
		}
	}
}

func (s *wsSession) send(msg ServerMessage) {
	select {
	case s.outbound <- msg:
	default:
		slog.Warn("streamhub: websocket outbound buffer full, dropping message", "client_id", s.clientID, "type", msg.Type)
	}
}

func (s *wsSession) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbound:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) pingLoop(ctx context.Context, conn *websocket.Conn, onTimeout context.CancelFunc) {
	ticker := time.NewTicker(mustPositive(s.hub.cfg.WSPingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.hub.cfg.WSPongTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Info("streamhub: websocket client unresponsive, terminating", "client_id", s.clientID, "error", err)
				_ = conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				onTimeout()
				return
			}
		}
	}
}

// mustPositive guards against a zero-value ping interval (Config not
// defaulted) turning into a busy loop.
func mustPositive(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
