// Package orchestrator is the marketplace's front door: it authorizes
// a request against the policy engine, checks the target agent's
// version lifecycle, tokenizes outbound PII, admits the work through
// the fair queue, dispatches it (locally or through the external agent
// proxy), and fans every state transition out to the stream hub and
// the provenance log.
//
// Grounded on the teacher's pkg/queue package: WorkerPool's
// goroutine-pool-plus-session-cancel-registry idiom (pkg/queue/pool.go)
// generalized from a single ent-backed session table into a scheduler
// that pulls from pkg/fairqueue instead of polling Postgres, and
// pkg/agent/orchestrator/runner.go's concurrency-guarded dispatch,
// generalized from sub-agent fan-out to job execution.
package orchestrator

import (
	"context"
	"time"

	"github.com/agentmkt/marketplace/pkg/jobstore"
)

// SubmitSpec is the caller-supplied input shared by Submit, ExecuteSync,
// and ExecuteStreaming — the three entry points all run identical
// pre-checks (spec.md §4.1) before diverging on how they return.
type SubmitSpec struct {
	AgentID        string
	TenantID       string
	UserID         string
	Input          any
	WebhookURL     string
	Priority       int
	IdempotencyKey string // optional; repeated submissions return the first job id
	TraceID        string // optional; a uuid is minted when empty
	Debug          bool   // when true, provenance records carry unredacted payloads
}

// Config tunes the orchestrator's worker pool and timeouts.
type Config struct {
	WorkerCount        int
	DefaultJobTimeout  time.Duration // per-job maxDuration enforced via context, absent agent-specific metadata
	DefaultSyncTimeout time.Duration // ExecuteSync's default blocking budget
	IdempotencyTTL     time.Duration
}

// DefaultConfig mirrors the teacher's config-defaults idiom
// (pkg/config/retention.go): usable without an operator tuning it.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		DefaultJobTimeout:  120 * time.Second,
		DefaultSyncTimeout: 30 * time.Second,
		IdempotencyTTL:     10 * time.Minute,
	}
}

// WebhookPayload is delivered to a job's WebhookURL on every terminal
// transition, per spec.md §6.
type WebhookPayload struct {
	Event   string                `json:"event"`
	JobID   string                `json:"jobId"`
	AgentID string                `json:"agentId"`
	Status  jobstore.Status       `json:"status"`
	Output  any                   `json:"output,omitempty"`
	Error   *jobstore.ErrorDetail `json:"error,omitempty"`
}

// WebhookSender delivers terminal job notifications. Implementations
// must be fail-open: a delivery failure is the sender's own concern to
// log, never the orchestrator's to surface. pkg/webhook provides the
// HTTP implementation; tests may supply a recording fake.
type WebhookSender interface {
	Deliver(ctx context.Context, url string, payload WebhookPayload)
}
