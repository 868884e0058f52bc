// Package provenance implements the append-only audit trail of every
// LLM call, tool call, and error raised while executing a run. Records
// are immutable once appended and are keyed for three access patterns:
// by trace, by run, and a bounded recent-N scan filtered by event type.
//
// Grounded on the teacher's ent schema idiom for interaction logging
// (ent/schema/llminteraction.go, ent/schema/mcpinteraction.go),
// generalized here into one EventType-discriminated record instead of
// two parallel tables, since both shared the same trace/run addressing
// and hash-prefix discipline.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates what kind of activity a Record describes.
type EventType string

// Supported event types.
const (
	EventLLMCall  EventType = "llm_call"
	EventToolCall EventType = "tool_call"
	EventError    EventType = "error"
)

// Record is one append-only provenance entry. Full request/response
// bodies are hashed to a 16-character SHA-256 prefix by default; the
// unredacted payload is only attached when the originating run carries
// the debug flag.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	TraceID   string    `json:"trace_id"`
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id,omitempty"`
	TenantID  string    `json:"tenant_id"`
	EventType EventType `json:"event_type"`

	LLM   *LLMDetail   `json:"llm,omitempty"`
	Tool  *ToolDetail  `json:"tool,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`

	DebugPayload map[string]any `json:"debug_payload,omitempty"`
}

// LLMDetail holds the fields relevant to an EventLLMCall record.
type LLMDetail struct {
	ModelID      string  `json:"model_id"`
	PromptHash   string  `json:"prompt_hash"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	DurationMS   int64   `json:"duration_ms"`
	Effort       string  `json:"effort,omitempty"`
}

// ToolDetail holds the fields relevant to an EventToolCall record.
type ToolDetail struct {
	Name             string `json:"name"`
	Version          string `json:"version,omitempty"`
	ArgsHash         string `json:"args_hash"`
	ResultHash       string `json:"result_hash"`
	SideEffectCommit bool   `json:"side_effect_committed"`
	DurationMS       int64  `json:"duration_ms"`
}

// ErrorDetail holds the fields relevant to an EventError record.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// hashPrefix returns the first 16 hex characters of the SHA-256 digest
// of v's JSON encoding. Non-marshalable values hash to the empty
// string's digest rather than failing the append.
func hashPrefix(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = nil
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func newRecordID() string {
	return uuid.NewString()
}
