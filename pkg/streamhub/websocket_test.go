package streamhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeWebSocket_SubscribeForwardsRunEvents(t *testing.T) {
	hub := New(Config{SubscriberBuffer: 16, SSEKeepalive: time.Hour, WSPingInterval: time.Hour, WSPongTimeout: time.Hour})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		_ = ServeWebSocket(r.Context(), conn, hub, "client-1")
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "subscribe", ID: "1", RunID: "run-1"}))

	var ack ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "run-1", ack.RunID)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("run-1") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish("run-1", EventToken, "hi", "req-1")

	var evtMsg ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &evtMsg))
	assert.Equal(t, "event", evtMsg.Type)
	require.NotNil(t, evtMsg.Event)
	assert.Equal(t, EventToken, evtMsg.Event.Type)
	assert.Equal(t, "hi", evtMsg.Event.Data)
}

func TestServeWebSocket_PingRespondsToClientPing(t *testing.T) {
	hub := New(Config{SubscriberBuffer: 16, SSEKeepalive: time.Hour, WSPingInterval: time.Hour, WSPongTimeout: time.Hour})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		_ = ServeWebSocket(r.Context(), conn, hub, "client-2")
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, ClientMessage{Type: "ping", ID: "p1"}))

	var pong ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, "p1", pong.ID)
}
