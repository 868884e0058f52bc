package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmkt/marketplace/pkg/config"
)

type fakePurger struct {
	calls  int32
	cutoff time.Time
	n      int
	err    error
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	atomic.AddInt32(&f.calls, 1)
	f.cutoff = cutoff
	return f.n, f.err
}

func TestSweepOnce_PurgesBothKinds(t *testing.T) {
	jobs := &fakePurger{n: 3}
	prov := &fakePurger{n: 5}
	cfg := &config.RetentionConfig{
		JobRetention:        24 * time.Hour,
		ProvenanceRetention: 48 * time.Hour,
		SweepInterval:       time.Hour,
	}

	svc := NewService(cfg, jobs, prov, nil)
	svc.SweepOnce(context.Background())

	assert.Equal(t, int32(1), jobs.calls)
	assert.Equal(t, int32(1), prov.calls)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), jobs.cutoff, time.Second)
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), prov.cutoff, time.Second)
}

func TestSweepOnce_ZeroRetentionSkipsKind(t *testing.T) {
	jobs := &fakePurger{}
	prov := &fakePurger{}
	cfg := &config.RetentionConfig{
		JobRetention:        0,
		ProvenanceRetention: time.Hour,
		SweepInterval:       time.Hour,
	}

	svc := NewService(cfg, jobs, prov, nil)
	svc.SweepOnce(context.Background())

	assert.Equal(t, int32(0), jobs.calls, "zero retention disables the job sweep")
	assert.Equal(t, int32(1), prov.calls)
}

func TestSweepOnce_LogsAndContinuesOnError(t *testing.T) {
	jobs := &fakePurger{err: errors.New("db down")}
	prov := &fakePurger{n: 1}

	svc := NewService(config.DefaultRetentionConfig(), jobs, prov, nil)
	require.NotPanics(t, func() { svc.SweepOnce(context.Background()) })

	assert.Equal(t, int32(1), jobs.calls)
	assert.Equal(t, int32(1), prov.calls, "provenance purge still runs after job purge fails")
}

func TestStartStop_ZeroIntervalNeverRuns(t *testing.T) {
	jobs := &fakePurger{}
	prov := &fakePurger{}
	cfg := &config.RetentionConfig{SweepInterval: 0}

	svc := NewService(cfg, jobs, prov, nil)
	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, int32(0), jobs.calls)
}

func TestStartStop_RunsImmediatelyOnStart(t *testing.T) {
	jobs := &fakePurger{}
	prov := &fakePurger{}
	cfg := &config.RetentionConfig{
		JobRetention:        time.Hour,
		ProvenanceRetention: time.Hour,
		SweepInterval:       time.Minute,
	}

	svc := NewService(cfg, jobs, prov, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&jobs.calls) >= 1
	}, time.Second, 10*time.Millisecond)
}
