package jobstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

// Store is the Job Store API. Mutations never return a bare bool per
// spec.md §4.4/§5 — they return a descriptive *apperror.Error so the
// caller (worker, cancel handler, webhook dispatcher) can record the
// rejection in provenance without re-deriving why the transition was
// refused.
type Store interface {
	Create(spec CreateSpec) (*Job, error)
	MarkProcessing(id, workerID, provider string) error
	UpdateProgress(id string, percent int) error
	MarkCompleted(id string, output any, cost *float64) error
	MarkFailed(id string, errMessage, errCode string) error
	Cancel(id string) error
	Get(id string) (*Job, error)
	FindByTenant(tenantID string, filter Filter) ([]*Job, error)
}

// MemoryStore is an in-process reference Store, safe for concurrent
// use. pkg/storage provides a pgx-backed Store satisfying the same
// interface for durability across process restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create assigns an id, sets status pending, and stores spec's input.
func (s *MemoryStore) Create(spec CreateSpec) (*Job, error) {
	job := &Job{
		ID:                uuid.NewString(),
		AgentID:           spec.AgentID,
		TenantID:          spec.TenantID,
		UserID:            spec.UserID,
		Status:            StatusPending,
		Input:             spec.Input,
		WebhookURL:        spec.WebhookURL,
		EstimatedDuration: spec.EstimatedDuration,
		CreatedAt:         time.Now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return snapshot(job), nil
}

// MarkProcessing transitions a pending job to processing. Idempotent:
// calling it again on an already-processing job with the same
// worker ID succeeds silently (the provider is not compared), matching spec.md §4.4's
// "idempotent only when current status is pending" by treating a
// repeat call from the same claim as a no-op rather than an error.
func (s *MemoryStore) MarkProcessing(id, workerID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if job.Status == StatusProcessing && job.WorkerID == workerID {
		return nil
	}
	if job.Status != StatusPending {
		return apperror.InvalidInput("status", "job is not pending")
	}

	now := time.Now()
	job.Status = StatusProcessing
	job.WorkerID = workerID
	job.Provider = provider
	job.StartedAt = &now
	return nil
}

// UpdateProgress clamps percent to [current, 100] and rejects mutation
// of a terminal job.
func (s *MemoryStore) UpdateProgress(id string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return apperror.InvalidInput("status", "job is terminal")
	}

	if percent < job.Progress {
		percent = job.Progress
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	return nil
}

// MarkCompleted requires the job to currently be processing, freezes
// output, and sets progress to 100.
func (s *MemoryStore) MarkCompleted(id string, output any, cost *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if job.Status != StatusProcessing {
		return apperror.InvalidInput("status", "job is not processing")
	}
	if cost != nil {
		job.Cost = cost
	}

	now := time.Now()
	job.Status = StatusCompleted
	job.Output = output
	job.Progress = 100
	job.CompletedAt = &now
	return nil
}

// MarkFailed is symmetric to MarkCompleted.
func (s *MemoryStore) MarkFailed(id string, errMessage, errCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if job.Status != StatusProcessing {
		return apperror.InvalidInput("status", "job is not processing")
	}

	now := time.Now()
	job.Status = StatusFailed
	job.Error = &ErrorDetail{Message: errMessage, Code: errCode}
	job.CompletedAt = &now
	return nil
}

// Cancel is allowed from pending or processing only.
func (s *MemoryStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if job.Status != StatusPending && job.Status != StatusProcessing {
		return apperror.InvalidInput("status", "job is not cancellable")
	}

	now := time.Now()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	return nil
}

// Get returns a point-in-time snapshot of a job.
func (s *MemoryStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	return snapshot(job), nil
}

func (s *MemoryStore) getLocked(id string) (*Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperror.JobNotFound(id)
	}
	return job, nil
}

// FindByTenant returns lock-free snapshots matching filter, ordered
// oldest-first or newest-first per filter.Order.
func (s *MemoryStore) FindByTenant(tenantID string, filter Filter) ([]*Job, error) {
	s.mu.RLock()
	matches := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && job.AgentID != filter.AgentID {
			continue
		}
		if !filter.Since.IsZero() && job.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && job.CreatedAt.After(filter.Until) {
			continue
		}
		matches = append(matches, snapshot(job))
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if filter.Order == NewestFirst {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// snapshot copies a Job so callers can never mutate store state
// through a returned pointer.
func snapshot(job *Job) *Job {
	cp := *job
	if job.Error != nil {
		errCopy := *job.Error
		cp.Error = &errCopy
	}
	if job.Cost != nil {
		costCopy := *job.Cost
		cp.Cost = &costCopy
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
