// Package jobstore implements the async job state machine and its
// storage, grounded on the teacher's AlertSession schema
// (ent/schema/alertsession.go) and the claim/terminal-status guards in
// pkg/queue/worker.go, generalized from alert-investigation sessions
// to the marketplace's agent-execution jobs.
package jobstore

import "time"

// Status is a Job's position in the pending -> processing ->
// {completed | failed | cancelled} state machine.
type Status string

// Job statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is one of completed/failed/cancelled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorDetail describes a terminal failure.
type ErrorDetail struct {
	Message string
	Code    string
}

// Job is one asynchronous execution request.
type Job struct {
	ID          string
	AgentID     string
	TenantID    string
	UserID      string // optional
	Status      Status
	Progress    int // 0..100, monotonically non-decreasing
	Input       any
	Output      any
	Error       *ErrorDetail
	Cost        *float64 // monetary, monotonically non-decreasing, nullable
	WebhookURL  string
	Provider    string // assigned once a worker claims the job
	WorkerID    string

	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	EstimatedDuration time.Duration
}

// CreateSpec is the caller-supplied input to Create.
type CreateSpec struct {
	AgentID           string
	TenantID          string
	UserID            string
	Input             any
	WebhookURL        string
	EstimatedDuration time.Duration
}

// SortOrder controls FindByTenant result ordering.
type SortOrder int

const (
	OldestFirst SortOrder = iota
	NewestFirst
)

// Filter narrows FindByTenant results.
type Filter struct {
	Status  Status // zero value means any status
	AgentID string // empty means any agent
	Since   time.Time
	Until   time.Time
	Order   SortOrder
	Limit   int // 0 means unlimited
}
