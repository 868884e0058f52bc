package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/jobstore"
	"github.com/agentmkt/marketplace/pkg/pii"
	"github.com/agentmkt/marketplace/pkg/provenance"
	"github.com/agentmkt/marketplace/pkg/streamhub"
)

// hubWriter implements externalagent.StreamWriter. It is the single
// place that unifies sync, async, and streaming execution: every job
// is driven through Proxy.ExecuteStreaming regardless of the external
// agent's configured protocol or how the caller invoked the
// orchestrator, because ExecuteStreaming already normalizes
// SSE/WebSocket/bridged-non-streaming dispatch into one uniform
// WriteEvent sequence ending in "done" or "error". hubWriter forwards
// every event into the stream hub, detokenizes PII before it reaches
// subscribers, records tool calls and errors to provenance, mirrors
// progress into the job store, and accumulates the final output text.
type hubWriter struct {
	ctx      context.Context
	hub      *streamhub.Hub
	jobs     jobstore.Store
	prov     *provenance.Log
	scope    *pii.Scope
	jobID    string
	traceID  string
	tenantID string
	debug    bool

	mu          sync.Mutex
	output      strings.Builder
	errMessage  string
	pendingTool map[string]toolCallStart
}

type toolCallStart struct {
	args    any
	started time.Time
}

func newHubWriter(ctx context.Context, hub *streamhub.Hub, jobs jobstore.Store, prov *provenance.Log, scope *pii.Scope, jobID, traceID, tenantID string, debug bool) *hubWriter {
	return &hubWriter{
		ctx:         ctx,
		hub:         hub,
		jobs:        jobs,
		prov:        prov,
		scope:       scope,
		jobID:       jobID,
		traceID:     traceID,
		tenantID:    tenantID,
		debug:       debug,
		pendingTool: make(map[string]toolCallStart),
	}
}

// WriteEvent implements externalagent.StreamWriter.
func (w *hubWriter) WriteEvent(e externalagent.StreamEvent) error {
	data := w.detokenize(e.Data)

	switch e.Type {
	case "token", "chunk":
		if s, ok := data.(string); ok {
			w.mu.Lock()
			w.output.WriteString(s)
			w.mu.Unlock()
		}
	case "tool_call":
		w.recordToolCallStart(data)
	case "tool_result":
		w.recordToolCallResult(data)
	case "progress":
		if pct, ok := asPercent(data); ok {
			if err := w.jobs.UpdateProgress(w.jobID, pct); err != nil {
				// progress updates race a job that just finished; non-fatal.
				_ = err
			}
		}
	case "error":
		w.mu.Lock()
		w.errMessage = fmt.Sprint(data)
		w.mu.Unlock()
		w.prov.AppendError(w.ctx, w.traceID, w.jobID, "", w.tenantID, provenance.ErrorDetail{Message: fmt.Sprint(data)})
	}

	w.hub.Publish(w.jobID, e.Type, data, e.RequestID)
	return nil
}

func (w *hubWriter) recordToolCallStart(data any) {
	name, args := toolNameAndArgs(data)
	w.mu.Lock()
	w.pendingTool[name] = toolCallStart{args: args, started: time.Now()}
	w.mu.Unlock()
}

func (w *hubWriter) recordToolCallResult(data any) {
	name, result := toolNameAndArgs(data)
	w.mu.Lock()
	start, ok := w.pendingTool[name]
	if ok {
		delete(w.pendingTool, name)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	var debugPayload map[string]any
	if w.debug {
		debugPayload = map[string]any{"args": start.args, "result": result}
	}
	w.prov.AppendToolCall(w.ctx, w.traceID, w.jobID, "", w.tenantID, provenance.ToolDetail{
		Name:       name,
		DurationMS: time.Since(start.started).Milliseconds(),
	}, start.args, result, debugPayload)
}

// toolNameAndArgs extracts a tool call's name and payload from an
// upstream-supplied event body, which is a caller-defined JSON object.
// A malformed body degrades to an unnamed entry rather than failing
// the run, matching the package's best-effort provenance discipline.
func toolNameAndArgs(data any) (string, any) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", data
	}
	name, _ := m["name"].(string)
	if payload, ok := m["args"]; ok {
		return name, payload
	}
	if payload, ok := m["result"]; ok {
		return name, payload
	}
	return name, m
}

func asPercent(data any) (int, bool) {
	switch v := data.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// detokenize replaces any PII tokens minted for this run's outbound
// payload with their originals before the event reaches subscribers
// or provenance, per spec.md §4.9.
func (w *hubWriter) detokenize(data any) any {
	if s, ok := data.(string); ok {
		return w.scope.Detokenize(s)
	}
	return data
}

// finalOutput returns the accumulated, detokenized output text and
// the message of the run's error event, empty if there was none.
func (w *hubWriter) finalOutput() (string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.output.String(), w.errMessage
}
