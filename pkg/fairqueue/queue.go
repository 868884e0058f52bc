package fairqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

// WindowCounter tracks a sliding-window request count per tenant,
// backing the "max requests per rolling window" quota. The in-process
// implementation below is used by default; pkg/storage provides a
// Redis-backed implementation (sliding window via sorted sets) for
// multi-process deployments, per SPEC_FULL.md's domain-stack wiring of
// redis/go-redis.
type WindowCounter interface {
	// Increment records one request for tenantID now and returns the
	// count within the trailing window.
	Increment(tenantID string, window time.Duration) int
}

// memoryWindowCounter is a single-process sliding window counter
// backed by per-tenant timestamp slices, swept lazily on Increment.
type memoryWindowCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func newMemoryWindowCounter() *memoryWindowCounter {
	return &memoryWindowCounter{hits: make(map[string][]time.Time)}
}

func (c *memoryWindowCounter) Increment(tenantID string, window time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.hits[tenantID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.hits[tenantID] = kept
	return len(kept)
}

// band groups queued items sharing one priority tier, round-robin
// visited by tenant.
type band struct {
	tenantOrder []string
	queues      map[string][]*Item
	cursor      int
}

// Queue is the tenant-weighted priority scheduler described in
// spec.md §4.2.
type Queue struct {
	mu            sync.Mutex
	cond          *sync.Cond
	bands         map[int]*band
	priorityOrder []int // cached descending priority list, rebuilt on structural change

	quotas    map[string]TenantQuota
	active    map[string]int
	pending   map[string]int
	processed map[string]int64

	windowCounter WindowCounter
}

// New creates an empty Queue. quotas maps tenant id to its configured
// limits; a tenant absent from quotas has no admission limits.
func New(quotas map[string]TenantQuota, windowCounter WindowCounter) *Queue {
	if windowCounter == nil {
		windowCounter = newMemoryWindowCounter()
	}
	if quotas == nil {
		quotas = make(map[string]TenantQuota)
	}
	q := &Queue{
		bands:         make(map[int]*band),
		quotas:        quotas,
		active:        make(map[string]int),
		pending:       make(map[string]int),
		processed:     make(map[string]int64),
		windowCounter: windowCounter,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits item, signalling any blocked dequeue. Rejects with
// apperror.QuotaExceeded if the tenant's pending count or rolling
// request-window count would be exceeded. Denied items are never
// queued.
func (q *Queue) Enqueue(item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if quota, ok := q.quotas[item.TenantID]; ok {
		if quota.MaxPending > 0 && q.pending[item.TenantID] >= quota.MaxPending {
			return apperror.QuotaExceeded("max_pending")
		}
	}

	if quota, ok := q.quotas[item.TenantID]; ok && quota.MaxPerWindow > 0 {
		count := q.windowCounter.Increment(item.TenantID, quota.Window)
		if count > quota.MaxPerWindow {
			return apperror.QuotaExceeded("max_requests_per_window")
		}
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	b, ok := q.bands[item.Priority]
	if !ok {
		b = &band{queues: make(map[string][]*Item)}
		q.bands[item.Priority] = b
		q.rebuildPriorityOrderLocked()
	}
	if _, ok := b.queues[item.TenantID]; !ok {
		b.tenantOrder = append(b.tenantOrder, item.TenantID)
	}
	b.queues[item.TenantID] = append(b.queues[item.TenantID], item)
	q.pending[item.TenantID]++

	q.cond.Broadcast()
	return nil
}

func (q *Queue) rebuildPriorityOrderLocked() {
	order := make([]int, 0, len(q.bands))
	for p := range q.bands {
		order = append(order, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(order)))
	q.priorityOrder = order
}

// Dequeue blocks until an eligible item exists or ctx is cancelled.
// Eligibility follows spec.md §4.2: the highest non-empty priority
// band is chosen; within it, tenants are visited round-robin via a
// per-band cursor that advances after every dequeue; a tenant whose
// active-run count has reached its concurrency cap is skipped without
// advancing the cursor past it.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if item, ok := q.tryPickLocked(); ok {
			q.pending[item.TenantID]--
			q.active[item.TenantID]++
			return item, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
}

// tryPickLocked must be called with q.mu held.
func (q *Queue) tryPickLocked() (*Item, bool) {
	for _, priority := range q.priorityOrder {
		b := q.bands[priority]
		if b == nil || len(b.tenantOrder) == 0 {
			continue
		}
		n := len(b.tenantOrder)
		for i := 0; i < n; i++ {
			idx := (b.cursor + i) % n
			tenantID := b.tenantOrder[idx]
			queue := b.queues[tenantID]
			if len(queue) == 0 {
				continue
			}
			if quota, ok := q.quotas[tenantID]; ok && quota.MaxConcurrent > 0 && q.active[tenantID] >= quota.MaxConcurrent {
				continue // skipped without advancing the cursor past it
			}
			item := queue[0]
			b.queues[tenantID] = queue[1:]
			b.cursor = (idx + 1) % n
			return item, true
		}
	}
	return nil, false
}

// Release decrements a tenant's active-run count and increments its
// processed total, called by the worker when an item finishes (successfully or
// not). It also wakes any blocked dequeue so a now-eligible tenant can
// be picked up immediately.
func (q *Queue) Release(tenantID string) {
	q.mu.Lock()
	if q.active[tenantID] > 0 {
		q.active[tenantID]--
	}
	q.processed[tenantID]++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Stats returns per-tenant pending counts, oldest-pending age, and
// total processed, per spec.md §4.2's stats() operation.
func (q *Queue) Stats() []TenantStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	oldest := make(map[string]time.Time)
	for _, b := range q.bands {
		for tenantID, items := range b.queues {
			if len(items) == 0 {
				continue
			}
			if t, ok := oldest[tenantID]; !ok || items[0].EnqueuedAt.Before(t) {
				oldest[tenantID] = items[0].EnqueuedAt
			}
		}
	}

	tenants := make(map[string]bool)
	for t := range q.pending {
		tenants[t] = true
	}
	for t := range q.active {
		tenants[t] = true
	}
	for t := range q.processed {
		tenants[t] = true
	}

	stats := make([]TenantStats, 0, len(tenants))
	for tenantID := range tenants {
		var age time.Duration
		if t, ok := oldest[tenantID]; ok {
			age = now.Sub(t)
		}
		stats = append(stats, TenantStats{
			TenantID:         tenantID,
			Pending:          q.pending[tenantID],
			OldestPendingAge: age,
			ActiveRuns:       q.active[tenantID],
			TotalProcessed:   q.processed[tenantID],
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TenantID < stats[j].TenantID })
	return stats
}
