package jobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

func createTestJob(t *testing.T, s *MemoryStore) *Job {
	t.Helper()
	job, err := s.Create(CreateSpec{AgentID: "agent-1", TenantID: "tenant-1", Input: "hi"})
	require.NoError(t, err)
	return job
}

func TestCreate_StartsPending(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestMarkProcessing_RequiresPending(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)

	require.NoError(t, s.MarkProcessing(job.ID, "worker-1", "acme"))
	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.MarkProcessing(job.ID, "worker-1", "acme"), "repeat claim by the same worker is idempotent")

	err = s.MarkProcessing(job.ID, "worker-2", "acme")
	require.Error(t, err)
}

func TestUpdateProgress_ClampsAndRejectsTerminal(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)
	require.NoError(t, s.MarkProcessing(job.ID, "worker-1", "acme"))

	require.NoError(t, s.UpdateProgress(job.ID, 40))
	require.NoError(t, s.UpdateProgress(job.ID, 10)) // attempted regression

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress, "progress must never move backward")

	require.NoError(t, s.UpdateProgress(job.ID, 999))
	got, _ = s.Get(job.ID)
	assert.Equal(t, 100, got.Progress)

	require.NoError(t, s.MarkCompleted(job.ID, "done", nil))
	err = s.UpdateProgress(job.ID, 50)
	require.Error(t, err, "terminal jobs reject further progress updates")
}

func TestMarkCompleted_RequiresProcessingAndFreezesOutput(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)

	err := s.MarkCompleted(job.ID, "output", nil)
	require.Error(t, err, "cannot complete a job that never started processing")

	require.NoError(t, s.MarkProcessing(job.ID, "w1", "acme"))
	cost := 1.25
	require.NoError(t, s.MarkCompleted(job.ID, "output", &cost))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "output", got.Output)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Cost)
	assert.Equal(t, 1.25, *got.Cost)

	err = s.MarkFailed(job.ID, "boom", "E1")
	require.Error(t, err, "completed jobs are terminal and reject further mutation")
}

func TestMarkFailed_RequiresProcessing(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)
	require.NoError(t, s.MarkProcessing(job.ID, "w1", "acme"))

	require.NoError(t, s.MarkFailed(job.ID, "boom", "E1"))
	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", got.Error.Message)
	assert.Equal(t, "E1", got.Error.Code)
}

func TestCancel_AllowedFromPendingOrProcessingOnly(t *testing.T) {
	s := NewMemoryStore()
	pendingJob := createTestJob(t, s)
	require.NoError(t, s.Cancel(pendingJob.ID))

	processingJob := createTestJob(t, s)
	require.NoError(t, s.MarkProcessing(processingJob.ID, "w1", "acme"))
	require.NoError(t, s.Cancel(processingJob.ID))

	completedJob := createTestJob(t, s)
	require.NoError(t, s.MarkProcessing(completedJob.ID, "w1", "acme"))
	require.NoError(t, s.MarkCompleted(completedJob.ID, "out", nil))
	err := s.Cancel(completedJob.ID)
	require.Error(t, err, "a completed job cannot be cancelled")
}

func TestGet_UnknownIDReturnsJobNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("missing")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindJobNotFound))
}

func TestFindByTenant_FiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	job1, err := s.Create(CreateSpec{AgentID: "a1", TenantID: "t1"})
	require.NoError(t, err)
	job2, err := s.Create(CreateSpec{AgentID: "a2", TenantID: "t1"})
	require.NoError(t, err)
	_, err = s.Create(CreateSpec{AgentID: "a1", TenantID: "t2"})
	require.NoError(t, err)

	results, err := s.FindByTenant("t1", Filter{Order: OldestFirst})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, job1.ID, results[0].ID)
	assert.Equal(t, job2.ID, results[1].ID)

	results, err = s.FindByTenant("t1", Filter{AgentID: "a2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, job2.ID, results[0].ID)

	results, err = s.FindByTenant("t1", Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = s.FindByTenant("t1", Filter{Status: StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, results, 0)
}

func TestSnapshot_ReturnedJobsAreIndependentCopies(t *testing.T) {
	s := NewMemoryStore()
	job := createTestJob(t, s)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	got.Progress = 999 // mutate the caller's copy

	again, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Progress, "mutating a returned snapshot must not affect store state")
}
