package provenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store persists and queries provenance Records. The pgx-backed
// implementation lives in pkg/storage; an in-memory Store backs unit
// tests and any deployment that opts out of durable provenance.
type Store interface {
	Append(ctx context.Context, r *Record) error
	ByTrace(ctx context.Context, traceID string) ([]*Record, error)
	ByRun(ctx context.Context, runID string) ([]*Record, error)
	Recent(ctx context.Context, n int, eventType EventType) ([]*Record, error)
}

// Log is the append-only provenance writer used by the orchestrator and
// external agent proxy. Appends are best-effort: a Store failure is
// logged and swallowed so that a provenance outage never fails the
// run it is describing.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog wraps store with the best-effort append discipline.
func NewLog(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// AppendLLMCall records one LLM interaction. debugPayload is attached
// only when the caller's run has debug logging enabled; pass nil
// otherwise so only the hash prefixes are persisted.
func (l *Log) AppendLLMCall(ctx context.Context, traceID, runID, stepID, tenantID string, detail LLMDetail, prompt, response any, debugPayload map[string]any) {
	detail.PromptHash = hashPrefix(prompt)
	_ = response // response hash intentionally omitted from LLMDetail today; reserved for future use
	l.append(ctx, &Record{
		ID:           newRecordID(),
		CreatedAt:    time.Now(),
		TraceID:      traceID,
		RunID:        runID,
		StepID:       stepID,
		TenantID:     tenantID,
		EventType:    EventLLMCall,
		LLM:          &detail,
		DebugPayload: debugPayload,
	})
}

// AppendToolCall records one tool invocation, hashing args and result.
func (l *Log) AppendToolCall(ctx context.Context, traceID, runID, stepID, tenantID string, detail ToolDetail, args, result any, debugPayload map[string]any) {
	detail.ArgsHash = hashPrefix(args)
	detail.ResultHash = hashPrefix(result)
	l.append(ctx, &Record{
		ID:           newRecordID(),
		CreatedAt:    time.Now(),
		TraceID:      traceID,
		RunID:        runID,
		StepID:       stepID,
		TenantID:     tenantID,
		EventType:    EventToolCall,
		Tool:         &detail,
		DebugPayload: debugPayload,
	})
}

// AppendError records a terminal or recoverable error encountered
// during a run.
func (l *Log) AppendError(ctx context.Context, traceID, runID, stepID, tenantID string, detail ErrorDetail) {
	l.append(ctx, &Record{
		ID:        newRecordID(),
		CreatedAt: time.Now(),
		TraceID:   traceID,
		RunID:     runID,
		StepID:    stepID,
		TenantID:  tenantID,
		EventType: EventError,
		Error:     &detail,
	})
}

func (l *Log) append(ctx context.Context, r *Record) {
	if err := l.store.Append(ctx, r); err != nil {
		l.logger.Error("provenance: append failed",
			"trace_id", r.TraceID, "run_id", r.RunID, "event_type", r.EventType, "error", err)
	}
}

// ByTrace returns every record sharing a trace ID, oldest first.
func (l *Log) ByTrace(ctx context.Context, traceID string) ([]*Record, error) {
	return l.store.ByTrace(ctx, traceID)
}

// ByRun returns every record sharing a run ID, oldest first.
func (l *Log) ByRun(ctx context.Context, runID string) ([]*Record, error) {
	return l.store.ByRun(ctx, runID)
}

// Recent returns up to n records of the given event type, newest
// first. Pass an empty EventType to match every event type.
func (l *Log) Recent(ctx context.Context, n int, eventType EventType) ([]*Record, error) {
	return l.store.Recent(ctx, n, eventType)
}

// Stats aggregates counts and totals across a set of records, used by
// the marketplace dashboard and cost-reporting endpoints.
type Stats struct {
	CountByEvent map[EventType]int
	TotalCost    float64
	TotalTokens  int
}

// Aggregate computes Stats over an already-fetched record slice so
// callers can reuse one query result for both a listing and a summary.
func Aggregate(records []*Record) Stats {
	stats := Stats{CountByEvent: make(map[EventType]int)}
	for _, r := range records {
		stats.CountByEvent[r.EventType]++
		if r.LLM != nil {
			stats.TotalCost += r.LLM.Cost
			stats.TotalTokens += r.LLM.InputTokens + r.LLM.OutputTokens
		}
	}
	return stats
}

// MemoryStore is an in-memory Store used by tests and by deployments
// that run without a configured database.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, r *Record) error {
	if r.ID == "" {
		return fmt.Errorf("provenance: record missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// ByTrace implements Store.
func (m *MemoryStore) ByTrace(_ context.Context, traceID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if r.TraceID == traceID {
			out = append(out, r)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// ByRun implements Store.
func (m *MemoryStore) ByRun(_ context.Context, runID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(_ context.Context, n int, eventType EventType) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*Record
	for _, r := range m.records {
		if eventType == "" || r.EventType == eventType {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if n > 0 && len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

func sortByCreatedAt(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
