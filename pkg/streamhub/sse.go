package streamhub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ServeSSE drains sub until it closes (unsubscribe, `done`, or
// overflow disconnect) or the request context is cancelled, writing
// each Event in the wire format from spec.md §6:
//
//	event: <type>\n
//	data: <json>\n
//	id: <seq>\n\n
//
// Idle connections receive a `: keep-alive\n\n` comment frame every
// cfg.SSEKeepalive, matching the teacher's NOTIFY-idle-keepalive
// concern generalized from PG LISTEN to this hub's publish channel.
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub, clientID, runID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streamhub: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := hub.Subscribe(clientID, runID)
	defer hub.Unsubscribe(clientID, runID)

	keepalive := time.NewTicker(hub.cfg.SSEKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return r.Context().Err()

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()

		case evt, ok := <-sub.Ch:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return err
			}
			flusher.Flush()
			if evt.Type == EventDone {
				return nil
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", evt.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", payload); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\n\n", evt.Seq); err != nil {
		return err
	}
	return nil
}
