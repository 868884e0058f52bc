package externalagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (w *recordingWriter) WriteEvent(e StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *recordingWriter) snapshot() []StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]StreamEvent, len(w.events))
	copy(out, w.events)
	return out
}

func registerTestAgent(t *testing.T, reg *Registry, baseURL string) {
	t.Helper()
	reg.Register(context.Background(), Config{
		ID:             "agent-1",
		BaseURL:        baseURL,
		Enabled:        true,
		HealthInterval: 0,
		MaxConcurrency: 10,
	})
}

func TestProxy_ExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(ExecuteResponse{Result: "ok: " + req.Task})
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	registerTestAgent(t, reg, srv.URL)
	proxy := NewProxy(reg, nil)

	resp, err := proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "hello", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "ok: hello", resp.Result)

	state, _ := reg.State("agent-1")
	assert.Equal(t, int64(1), state.TotalRequests)
	assert.Equal(t, int64(0), state.TotalErrors)
}

func TestProxy_ExecuteUnknownAgent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	proxy := NewProxy(reg, nil)
	_, err := proxy.Execute(context.Background(), "missing", ExecuteRequest{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindAgentNotFound))
}

func TestProxy_ExecuteRetriesOnRetryableStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ExecuteResponse{Result: "eventually ok"})
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{
		ID: "agent-1", BaseURL: srv.URL, Enabled: true, MaxConcurrency: 10,
		Retry: RetryPolicy{
			MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2,
			RetryableStatus: map[int]bool{503: true},
		},
	})
	proxy := NewProxy(reg, nil)

	resp, err := proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, "eventually ok", resp.Result)
}

func TestProxy_ExecuteNonRetryableStatusFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	registerTestAgent(t, reg, srv.URL)
	proxy := NewProxy(reg, nil)

	_, err := proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "x"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindUpstreamRejected))
}

func TestProxy_ExecuteMaxRetriesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{
		ID: "agent-1", BaseURL: srv.URL, Enabled: true, MaxConcurrency: 10,
		Retry: RetryPolicy{
			MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 1,
			RetryableStatus: map[int]bool{503: true},
		},
	})
	proxy := NewProxy(reg, nil)

	_, err := proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "x"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindMaxRetriesExceeded))
}

func TestProxy_CircuitBreakerTripsAndBlocksDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{
		ID: "agent-1", BaseURL: srv.URL, Enabled: true, MaxConcurrency: 10,
		Retry: RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	proxy := NewProxy(reg, nil)

	for i := 0; i < 6; i++ {
		_, _ = proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "x"})
	}

	assert.False(t, reg.Available("agent-1"), "after repeated failures the circuit should trip and block dispatch")

	_, err := proxy.Execute(context.Background(), "agent-1", ExecuteRequest{Task: "x"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindAgentUnavailable))
}

func TestProxy_BridgeNonStreamingToStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{Result: "0123456789abcdef"})
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{ID: "agent-1", BaseURL: srv.URL, Enabled: true, MaxConcurrency: 10, Protocol: StreamNone})
	proxy := NewProxy(reg, nil)

	w := &recordingWriter{}
	err := proxy.ExecuteStreaming(context.Background(), "agent-1", ExecuteRequest{Task: "x", RequestID: "r9"}, w)
	require.NoError(t, err)

	events := w.snapshot()
	require.True(t, len(events) >= 2)
	assert.Equal(t, "start", events[0].Type)
	assert.Equal(t, "done", events[len(events)-1].Type)
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, "r9", e.RequestID)
	}
}

func TestProxy_ForwardSSEStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: token\ndata: {\"seq\":1,\"data\":\"hi\"}\n\n"))
		flusher.Flush()
		w.Write([]byte("event: done\ndata: {\"seq\":2}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{ID: "agent-1", BaseURL: srv.URL, Enabled: true, MaxConcurrency: 10, Protocol: StreamSSE})
	proxy := NewProxy(reg, nil)

	w := &recordingWriter{}
	err := proxy.ExecuteStreaming(context.Background(), "agent-1", ExecuteRequest{Task: "x", RequestID: "r1"}, w)
	require.NoError(t, err)

	events := w.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "token", events[0].Type)
	assert.Equal(t, "hi", events[0].Data)
	assert.Equal(t, "done", events[1].Type)
}

func TestRegistry_AvailablePredicate(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{ID: "a1", BaseURL: "http://example.invalid", Enabled: false})
	assert.False(t, reg.Available("a1"), "disabled agent is never available")

	reg.Register(context.Background(), Config{ID: "a2", BaseURL: "http://example.invalid", Enabled: true, MaxConcurrency: 1})
	assert.True(t, reg.Available("a2"))
}

func TestRegistry_RegisterFetchesInfoCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/info" {
			json.NewEncoder(w).Encode(InfoCard{Name: "demo-agent", Category: "text"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{ID: "a1", BaseURL: srv.URL, Enabled: true})

	state, ok := reg.State("a1")
	require.True(t, ok)
	require.NotNil(t, state.Info)
	assert.Equal(t, "demo-agent", state.Info.Name)
}

func TestRegistry_HealthCheckClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry(nil, nil)
	reg.Register(context.Background(), Config{
		ID: "a1", BaseURL: srv.URL, Enabled: true, HealthInterval: 20 * time.Millisecond, ConnectTimeout: time.Second,
	})
	defer reg.Unregister("a1")

	require.Eventually(t, func() bool {
		state, _ := reg.State("a1")
		return state.Health == HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)
}
