package streamhub

import (
	"log/slog"
	"sync"
	"time"
)

// Subscriber receives events for one run on behalf of one client.
type Subscriber struct {
	ID    string
	RunID string
	Ch    chan Event

	closeOnce sync.Once
}

func newSubscriber(id, runID string, buffer int) *Subscriber {
	return &Subscriber{ID: id, RunID: runID, Ch: make(chan Event, buffer)}
}

// close is idempotent; safe to call from both the hub and the
// transport layer when either side tears down first.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.Ch) })
}

// runEntry holds the subscriber set and sequence counter for one run.
type runEntry struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	nextSeq     int
}

// Hub is the per-process fan-out registry: Subscribe(clientID, runID)
// adds a subscriber; Publish assigns the next sequence number for the
// run and delivers to every current subscriber without blocking; a
// `done` event closes out the run.
type Hub struct {
	cfg Config

	mu   sync.RWMutex
	runs map[string]*runEntry
}

// New creates a Hub. A zero Config uses DefaultConfig.
func New(cfg Config) *Hub {
	if cfg.SubscriberBuffer <= 0 {
		cfg = DefaultConfig()
	}
	return &Hub{cfg: cfg, runs: make(map[string]*runEntry)}
}

func (h *Hub) entry(runID string) *runEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.runs[runID]
	if !ok {
		e = &runEntry{subscribers: make(map[string]*Subscriber)}
		h.runs[runID] = e
	}
	return e
}

// Subscribe adds clientID to runID's subscriber set, per spec.md
// §4.5. Returns the Subscriber; the caller's transport drains
// Subscriber.Ch until it's closed (either by Unsubscribe, by a `done`
// event, or by overflow disconnection).
func (h *Hub) Subscribe(clientID, runID string) *Subscriber {
	e := h.entry(runID)
	sub := newSubscriber(clientID, runID, h.cfg.SubscriberBuffer)

	e.mu.Lock()
	e.subscribers[clientID] = sub
	e.mu.Unlock()

	return sub
}

// Unsubscribe removes clientID from runID's subscriber set and closes
// its channel. When the set becomes empty the run entry is collected,
// per spec.md §4.5.
func (h *Hub) Unsubscribe(clientID, runID string) {
	h.mu.RLock()
	e, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	sub, found := e.subscribers[clientID]
	if found {
		delete(e.subscribers, clientID)
	}
	empty := len(e.subscribers) == 0
	e.mu.Unlock()

	if found {
		sub.close()
	}
	if empty {
		h.mu.Lock()
		if cur, ok := h.runs[runID]; ok && cur == e {
			delete(h.runs, runID)
		}
		h.mu.Unlock()
	}
}

// Publish assigns the next sequence number for runID and fans eventType
// out to every current subscriber, preserving per-run publication
// order. Delivery is non-blocking: a subscriber whose buffer is full is
// disconnected (its channel closed) rather than stalling the
// publisher or other subscribers. A `done` event closes the whole run
// after fan-out.
func (h *Hub) Publish(runID, eventType string, data any, requestID string) {
	e := h.entry(runID)

	e.mu.Lock()
	e.nextSeq++
	seq := e.nextSeq
	subs := make([]*Subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	evt := Event{Type: eventType, Data: data, Timestamp: time.Now(), Seq: seq, RequestID: requestID}

	for _, sub := range subs {
		select {
		case sub.Ch <- evt:
		default:
			slog.Warn("streamhub: subscriber buffer full, disconnecting", "run_id", runID, "client_id", sub.ID)
			h.Unsubscribe(sub.ID, runID)
		}
	}

	if eventType == EventDone {
		h.closeRun(runID)
	}
}

// closeRun closes every remaining subscriber's channel and removes
// the run entry.
func (h *Hub) closeRun(runID string) {
	h.mu.Lock()
	e, ok := h.runs[runID]
	if ok {
		delete(h.runs, runID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	subs := e.subscribers
	e.subscribers = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// SubscriberCount reports the current subscriber count for a run, used
// by tests and admin introspection.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	e, ok := h.runs[runID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}
