package fairqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

func TestEnqueueDequeue_FIFOWithinTenant(t *testing.T) {
	q := New(nil, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "1", TenantID: "t1", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "2", TenantID: "t1", Priority: 1}))

	ctx := context.Background()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", first.ID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", second.ID)
}

func TestDequeue_HigherPriorityBandWinsFirst(t *testing.T) {
	q := New(nil, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "low", TenantID: "t1", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "high", TenantID: "t1", Priority: 5}))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "high", item.ID)
}

func TestDequeue_RoundRobinsAcrossTenantsWithinBand(t *testing.T) {
	q := New(nil, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "a1", TenantID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "b1", TenantID: "b", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "a2", TenantID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "b2", TenantID: "b", Priority: 1}))

	ctx := context.Background()
	var order []string
	for i := 0; i < 4; i++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, item.ID)
		q.Release(item.TenantID)
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, order)
}

func TestDequeue_SkipsTenantAtConcurrencyCapWithoutStallingCursor(t *testing.T) {
	quotas := map[string]TenantQuota{
		"a": {MaxConcurrent: 1},
	}
	q := New(quotas, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "a1", TenantID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "b1", TenantID: "b", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "a2", TenantID: "a", Priority: 1}))

	ctx := context.Background()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", first.ID, "tenant a's active count is now 1, at its cap")

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", second.ID, "tenant a is skipped this cycle since it is at its concurrency cap")

	q.Release("a")
	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", third.ID, "tenant a is eligible again after release")
}

func TestEnqueue_RejectsOverMaxPending(t *testing.T) {
	quotas := map[string]TenantQuota{"a": {MaxPending: 1}}
	q := New(quotas, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "a1", TenantID: "a", Priority: 1}))

	err := q.Enqueue(&Item{ID: "a2", TenantID: "a", Priority: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindQuotaExceeded))
}

func TestEnqueue_RejectsOverMaxPerWindow(t *testing.T) {
	quotas := map[string]TenantQuota{"a": {MaxPerWindow: 2, Window: time.Minute}}
	q := New(quotas, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "a1", TenantID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "a2", TenantID: "a", Priority: 1}))

	err := q.Enqueue(&Item{ID: "a3", TenantID: "a", Priority: 1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindQuotaExceeded))
}

func TestDequeue_CancelUnblocksWaiter(t *testing.T) {
	q := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after context cancellation")
	}
}

func TestStats_ReportsPendingAndProcessed(t *testing.T) {
	q := New(nil, nil)
	require.NoError(t, q.Enqueue(&Item{ID: "a1", TenantID: "a", Priority: 1}))
	require.NoError(t, q.Enqueue(&Item{ID: "a2", TenantID: "a", Priority: 1}))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	q.Release(item.TenantID)

	stats := q.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "a", stats[0].TenantID)
	assert.Equal(t, 1, stats[0].Pending)
	assert.Equal(t, int64(1), stats[0].TotalProcessed)
	assert.Equal(t, 0, stats[0].ActiveRuns)
}

func TestMemoryWindowCounter_SlidesOutOldHits(t *testing.T) {
	c := newMemoryWindowCounter()
	n := c.Increment("t1", time.Millisecond)
	assert.Equal(t, 1, n)

	time.Sleep(5 * time.Millisecond)
	n = c.Increment("t1", time.Millisecond)
	assert.Equal(t, 1, n, "the first hit should have fallen out of the window")
}
