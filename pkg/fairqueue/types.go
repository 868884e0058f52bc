// Package fairqueue implements a tenant-weighted, priority-tiered
// round-robin scheduler with per-tenant quotas.
//
// Grounded on the teacher's pkg/queue package: the cancel-function
// registry and graceful Stop idiom of WorkerPool (pkg/queue/pool.go)
// generalized here into blocking, cancellable dequeues instead of a
// fixed worker-goroutine pool, since the spec's queue is a pluggable
// admission component rather than an owner of execution goroutines.
package fairqueue

import "time"

// Item is one admission unit.
type Item struct {
	ID         string
	TenantID   string
	AgentID    string
	Priority   int // higher = earlier
	Payload    any
	EnqueuedAt time.Time
	Attempt    int
}

// TenantQuota holds the three per-tenant limits from spec.md §4.2.
type TenantQuota struct {
	MaxConcurrent int
	MaxPending    int
	MaxPerWindow  int
	Window        time.Duration
}

// TenantStats reports per-tenant queue depth and processing counters.
type TenantStats struct {
	TenantID         string
	Pending          int
	OldestPendingAge time.Duration
	ActiveRuns       int
	TotalProcessed   int64
}
