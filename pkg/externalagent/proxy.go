package externalagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

// chunkSize is the fixed size used to split a non-streaming result
// into synthetic token events when bridging to a streaming caller.
const chunkSize = 64

// Proxy dispatches execute calls to agents tracked by a Registry,
// applying retry/backoff and updating the registry's runtime state on
// every terminal outcome.
type Proxy struct {
	registry   *Registry
	httpClient *http.Client
}

// NewProxy creates a Proxy over registry. httpClient may be nil, in
// which case a client with no default timeout is used (per-request
// timeouts are applied via context).
func NewProxy(registry *Registry, httpClient *http.Client) *Proxy {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Proxy{registry: registry, httpClient: httpClient}
}

// Execute runs one synchronous call against agentID per spec.md
// §4.3's proxy execute procedure: availability check, POST with
// retry/backoff on the retryable status set, EWMA update on success.
func (p *Proxy) Execute(ctx context.Context, agentID string, req ExecuteRequest) (*ExecuteResponse, error) {
	entry, ok := p.registry.get(agentID)
	if !ok {
		return nil, apperror.AgentNotFound(agentID)
	}
	if !p.registry.Available(agentID) {
		return nil, apperror.AgentUnavailable(agentID)
	}

	p.beginRequest(entry)
	defer p.endRequest(entry)

	cfg := entry.cfg
	var lastErr error

	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, status, err := p.callOnce(ctx, entry, cfg, req)
		elapsed := time.Since(start)

		if err == nil && status/100 == 2 {
			p.recordSuccess(entry, elapsed)
			return result, nil
		}

		if err != nil {
			lastErr = apperror.Timeout(fmt.Sprintf("externalagent: request to %s failed: %v", agentID, err))
		} else {
			lastErr = apperror.UpstreamRejected(status, fmt.Sprintf("externalagent: %s returned status %d", agentID, status))
		}
		p.recordFailure(entry)

		retryable := err != nil || cfg.Retry.RetryableStatus[status]
		if !retryable || attempt >= cfg.Retry.MaxRetries {
			if attempt >= cfg.Retry.MaxRetries && retryable {
				return nil, apperror.MaxRetriesExceeded(fmt.Sprintf("externalagent: %s exhausted %d retries", agentID, cfg.Retry.MaxRetries))
			}
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, apperror.Timeout("externalagent: context cancelled during backoff")
		case <-time.After(backoff(cfg.Retry, attempt)):
		}
	}
}

// backoff computes min(maxDelay, initialDelay * multiplier^(attempt-1))
// scaled by a uniform jitter factor in [0.75, 1.25], per spec.md §4.3.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	raw := float64(policy.InitialDelay) * pow(policy.Multiplier, attempt-1)
	if raw > float64(policy.MaxDelay) {
		raw = float64(policy.MaxDelay)
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(raw * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (p *Proxy) callOnce(ctx context.Context, entry *agentEntry, cfg Config, req ExecuteRequest) (*ExecuteResponse, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("externalagent: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.BaseURL+cfg.ExecutePath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, cfg)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, resp.StatusCode, nil
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("externalagent: decode response: %w", err)
	}
	return &out, resp.StatusCode, nil
}

func (p *Proxy) beginRequest(entry *agentEntry) {
	entry.mu.Lock()
	entry.state.ActiveRequests++
	entry.state.TotalRequests++
	entry.mu.Unlock()
}

func (p *Proxy) endRequest(entry *agentEntry) {
	entry.mu.Lock()
	if entry.state.ActiveRequests > 0 {
		entry.state.ActiveRequests--
	}
	entry.mu.Unlock()
}

func (p *Proxy) recordSuccess(entry *agentEntry, elapsed time.Duration) {
	_, _ = entry.breaker.Execute(func() (any, error) { return nil, nil })
	entry.mu.Lock()
	sample := float64(elapsed.Milliseconds())
	if entry.state.EWMAResponseMillis == 0 {
		entry.state.EWMAResponseMillis = sample
	} else {
		entry.state.EWMAResponseMillis = 0.1*sample + 0.9*entry.state.EWMAResponseMillis
	}
	entry.mu.Unlock()
}

func (p *Proxy) recordFailure(entry *agentEntry) {
	_, _ = entry.breaker.Execute(func() (any, error) { return nil, errExecuteFailed })
	entry.mu.Lock()
	entry.state.TotalErrors++
	entry.mu.Unlock()
}

var errExecuteFailed = fmt.Errorf("externalagent: upstream call failed")

// StreamWriter receives StreamEvents forwarded by ExecuteStreaming.
type StreamWriter interface {
	WriteEvent(event StreamEvent) error
}

// ExecuteStreaming opens an event stream to the remote agent's stream
// endpoint and forwards each event to writer, preserving type,
// sequence number, and payload. If the remote does not support
// streaming (Protocol == StreamNone), the synchronous result is
// bridged into a synthetic start/token.../done sequence.
func (p *Proxy) ExecuteStreaming(ctx context.Context, agentID string, req ExecuteRequest, writer StreamWriter) error {
	entry, ok := p.registry.get(agentID)
	if !ok {
		return apperror.AgentNotFound(agentID)
	}
	if !p.registry.Available(agentID) {
		return apperror.AgentUnavailable(agentID)
	}
	cfg := entry.cfg

	if cfg.Protocol == StreamNone {
		return p.bridgeNonStreaming(ctx, agentID, req, writer)
	}

	if cfg.Protocol == StreamWebSocket {
		return p.streamOverWebSocket(ctx, entry, req, writer)
	}

	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("externalagent: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+cfg.StreamPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	applyAuth(httpReq, cfg)

	p.beginRequest(entry)
	defer p.endRequest(entry)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.recordFailure(entry)
		_ = writer.WriteEvent(StreamEvent{Type: "error", Data: err.Error(), RequestID: req.RequestID})
		return apperror.Timeout(fmt.Sprintf("externalagent: stream connect to %s failed: %v", agentID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		p.recordFailure(entry)
		_ = writer.WriteEvent(StreamEvent{Type: "error", Data: fmt.Sprintf("status %d", resp.StatusCode), RequestID: req.RequestID})
		return apperror.UpstreamRejected(resp.StatusCode, fmt.Sprintf("externalagent: stream from %s returned status %d", agentID, resp.StatusCode))
	}

	return p.forwardSSE(resp.Body, writer, req.RequestID)
}

// streamOverWebSocket dials the remote agent's stream endpoint over
// WebSocket and forwards each JSON frame as a StreamEvent, closing on
// a "done" frame or connection error.
func (p *Proxy) streamOverWebSocket(ctx context.Context, entry *agentEntry, req ExecuteRequest, writer StreamWriter) error {
	cfg := entry.cfg
	wsURL := toWebSocketURL(cfg.BaseURL) + cfg.StreamPath

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	header := make(http.Header)
	switch cfg.Auth {
	case AuthAPIKey:
		header.Set(cfg.AuthHeaderName, cfg.AuthCredential)
	case AuthBearer:
		header.Set("Authorization", "Bearer "+cfg.AuthCredential)
	case AuthBasic:
		header.Set("Authorization", "Basic "+cfg.AuthCredential)
	}

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		p.recordFailure(entry)
		_ = writer.WriteEvent(StreamEvent{Type: "error", Data: err.Error(), RequestID: req.RequestID})
		return apperror.Timeout(fmt.Sprintf("externalagent: websocket dial to %s failed: %v", cfg.ID, err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p.beginRequest(entry)
	defer p.endRequest(entry)

	req.Stream = true
	if err := wsjson.Write(ctx, conn, req); err != nil {
		p.recordFailure(entry)
		return fmt.Errorf("externalagent: websocket write request: %w", err)
	}

	for {
		var event StreamEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if ctx.Err() != nil {
				return apperror.Timeout("externalagent: websocket stream cancelled")
			}
			p.recordFailure(entry)
			return fmt.Errorf("externalagent: websocket read event: %w", err)
		}
		event.RequestID = req.RequestID
		if err := writer.WriteEvent(event); err != nil {
			return err
		}
		if event.Type == "done" || event.Type == "error" {
			if event.Type == "done" {
				p.recordSuccess(entry, 0)
			}
			return nil
		}
	}
}

func toWebSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

// forwardSSE parses the upstream's SSE frames and forwards them to
// writer, preserving type and sequence number.
func (p *Proxy) forwardSSE(body io.Reader, writer StreamWriter, requestID string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	flush := func() error {
		if eventType == "" && len(dataLines) == 0 {
			return nil
		}
		raw := strings.Join(dataLines, "\n")
		var payload map[string]any
		_ = json.Unmarshal([]byte(raw), &payload)
		event := StreamEvent{Type: eventType, RequestID: requestID, Timestamp: time.Now().UnixMilli()}
		if payload != nil {
			if seq, ok := payload["seq"].(float64); ok {
				event.Seq = int(seq)
			}
			if data, ok := payload["data"]; ok {
				event.Data = data
			} else {
				event.Data = payload
			}
		} else {
			event.Data = raw
		}
		eventType, dataLines = "", nil
		return writer.WriteEvent(event)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment/keep-alive frame, ignored
		}
	}
	return flush()
}

// bridgeNonStreaming executes the synchronous call and synthesizes a
// start/token.../done sequence for callers that asked for streaming
// against an agent that doesn't support it.
func (p *Proxy) bridgeNonStreaming(ctx context.Context, agentID string, req ExecuteRequest, writer StreamWriter) error {
	seq := 0
	next := func() int {
		seq++
		return seq
	}

	if err := writer.WriteEvent(StreamEvent{Type: "start", RequestID: req.RequestID, Seq: next(), Timestamp: time.Now().UnixMilli()}); err != nil {
		return err
	}

	result, err := p.Execute(ctx, agentID, req)
	if err != nil {
		_ = writer.WriteEvent(StreamEvent{Type: "error", Data: err.Error(), RequestID: req.RequestID, Seq: next(), Timestamp: time.Now().UnixMilli()})
		return err
	}

	for i := 0; i < len(result.Result); i += chunkSize {
		end := i + chunkSize
		if end > len(result.Result) {
			end = len(result.Result)
		}
		chunk := result.Result[i:end]
		if err := writer.WriteEvent(StreamEvent{Type: "token", Data: chunk, RequestID: req.RequestID, Seq: next(), Timestamp: time.Now().UnixMilli()}); err != nil {
			return err
		}
	}

	return writer.WriteEvent(StreamEvent{Type: "done", RequestID: req.RequestID, Seq: next(), Timestamp: time.Now().UnixMilli()})
}
