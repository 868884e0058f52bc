package streamhub

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeSSE_DeliversEventsUntilDone(t *testing.T) {
	hub := New(Config{SubscriberBuffer: 16, SSEKeepalive: time.Hour, WSPingInterval: time.Hour, WSPongTimeout: time.Hour})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := ServeSSE(w, r, hub, "client-1", "run-1")
		require.NoError(t, err)
	}))
	defer srv.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish("run-1", EventToken, "hi", "req-1")
		hub.Publish("run-1", EventDone, nil, "req-1")
	}()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var eventLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLines = append(eventLines, strings.TrimPrefix(line, "event: "))
		}
		if line == "" && len(eventLines) >= 2 {
			break
		}
	}

	require.Len(t, eventLines, 2)
	assert.Equal(t, "token", eventLines[0])
	assert.Equal(t, "done", eventLines[1])
}
