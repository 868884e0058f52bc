package storage

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/agentmkt/marketplace/ent"
	"github.com/agentmkt/marketplace/ent/job"
	"github.com/agentmkt/marketplace/pkg/apperror"
	"github.com/agentmkt/marketplace/pkg/jobstore"
)

// JobStore is an ent/pgx-backed jobstore.Store, giving jobs the
// cross-restart durability the in-memory reference store doesn't.
// Grounded on pkg/queue/worker.go's claimNextSession: the same
// SELECT ... FOR UPDATE SKIP LOCKED idiom backs MarkProcessing so two
// workers racing to claim the same pending job never both win.
type JobStore struct {
	client *ent.Client
}

var _ jobstore.Store = (*JobStore)(nil)

// NewJobStore wraps client in a jobstore.Store.
func NewJobStore(client *ent.Client) *JobStore {
	return &JobStore{client: client}
}

// Create inserts a new pending job row.
func (s *JobStore) Create(spec jobstore.CreateSpec) (*jobstore.Job, error) {
	ctx := context.Background()

	builder := s.client.Job.Create().
		SetID(newJobID()).
		SetAgentID(spec.AgentID).
		SetTenantID(spec.TenantID).
		SetStatus(job.StatusPending)

	if spec.UserID != "" {
		builder = builder.SetUserID(spec.UserID)
	}
	if spec.WebhookURL != "" {
		builder = builder.SetWebhookURL(spec.WebhookURL)
	}
	if spec.EstimatedDuration > 0 {
		builder = builder.SetEstimatedDurationMs(spec.EstimatedDuration.Milliseconds())
	}
	if m, ok := spec.Input.(map[string]interface{}); ok {
		builder = builder.SetInput(m)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return toJob(row), nil
}

// MarkProcessing atomically claims a pending job under
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
func (s *JobStore) MarkProcessing(id, workerID, provider string) error {
	ctx := context.Background()

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := tx.Job.Query().
		Where(job.IDEQ(id)).
		ForUpdate(entsql.WithLockAction(entsql.SkipLocked)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return apperror.JobNotFound(id)
		}
		return fmt.Errorf("failed to query job: %w", err)
	}

	if row.Status == job.StatusProcessing && row.WorkerID != nil && *row.WorkerID == workerID {
		return tx.Commit()
	}
	if row.Status != job.StatusPending {
		return apperror.InvalidInput("status", "job is not pending")
	}

	now := time.Now()
	_, err = row.Update().
		SetStatus(job.StatusProcessing).
		SetWorkerID(workerID).
		SetProvider(provider).
		SetStartedAt(now).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}

	return tx.Commit()
}

// UpdateProgress clamps percent to [current, 100] and rejects mutation
// of a terminal job.
func (s *JobStore) UpdateProgress(id string, percent int) error {
	ctx := context.Background()

	row, err := s.client.Job.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return apperror.JobNotFound(id)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if isTerminal(row.Status) {
		return apperror.InvalidInput("status", "job is terminal")
	}

	if percent < row.Progress {
		percent = row.Progress
	}
	if percent > 100 {
		percent = 100
	}

	return s.client.Job.UpdateOneID(id).SetProgress(percent).Exec(ctx)
}

// MarkCompleted requires the job to currently be processing.
func (s *JobStore) MarkCompleted(id string, output any, cost *float64) error {
	ctx := context.Background()

	row, err := s.client.Job.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return apperror.JobNotFound(id)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if row.Status != job.StatusProcessing {
		return apperror.InvalidInput("status", "job is not processing")
	}

	builder := s.client.Job.UpdateOneID(id).
		SetStatus(job.StatusCompleted).
		SetProgress(100).
		SetCompletedAt(time.Now())
	if m, ok := output.(map[string]interface{}); ok {
		builder = builder.SetOutput(m)
	}
	if cost != nil {
		builder = builder.SetCost(*cost)
	}
	return builder.Exec(ctx)
}

// MarkFailed is symmetric to MarkCompleted.
func (s *JobStore) MarkFailed(id string, errMessage, errCode string) error {
	ctx := context.Background()

	row, err := s.client.Job.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return apperror.JobNotFound(id)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if row.Status != job.StatusProcessing {
		return apperror.InvalidInput("status", "job is not processing")
	}

	return s.client.Job.UpdateOneID(id).
		SetStatus(job.StatusFailed).
		SetErrorMessage(errMessage).
		SetErrorCode(errCode).
		SetCompletedAt(time.Now()).
		Exec(ctx)
}

// Cancel is allowed from pending or processing only.
func (s *JobStore) Cancel(id string) error {
	ctx := context.Background()

	row, err := s.client.Job.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return apperror.JobNotFound(id)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if row.Status != job.StatusPending && row.Status != job.StatusProcessing {
		return apperror.InvalidInput("status", "job is not cancellable")
	}

	return s.client.Job.UpdateOneID(id).
		SetStatus(job.StatusCancelled).
		SetCompletedAt(time.Now()).
		Exec(ctx)
}

// Get returns a point-in-time snapshot of a job.
func (s *JobStore) Get(id string) (*jobstore.Job, error) {
	ctx := context.Background()

	row, err := s.client.Job.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, apperror.JobNotFound(id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return toJob(row), nil
}

// FindByTenant returns jobs matching filter, ordered per filter.Order.
func (s *JobStore) FindByTenant(tenantID string, filter jobstore.Filter) ([]*jobstore.Job, error) {
	ctx := context.Background()

	q := s.client.Job.Query().Where(job.TenantIDEQ(tenantID))
	if filter.Status != "" {
		q = q.Where(job.StatusEQ(job.Status(filter.Status)))
	}
	if filter.AgentID != "" {
		q = q.Where(job.AgentIDEQ(filter.AgentID))
	}
	if !filter.Since.IsZero() {
		q = q.Where(job.CreatedAtGTE(filter.Since))
	}
	if !filter.Until.IsZero() {
		q = q.Where(job.CreatedAtLTE(filter.Until))
	}
	if filter.Order == jobstore.NewestFirst {
		q = q.Order(ent.Desc(job.FieldCreatedAt))
	} else {
		q = q.Order(ent.Asc(job.FieldCreatedAt))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	out := make([]*jobstore.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, toJob(row))
	}
	return out, nil
}

// DeleteOlderThan removes terminal jobs created before cutoff, per the
// tenant retention window of spec.md §3's Job lifecycle note ("retained
// until tenant retention window elapses"). Pending/processing jobs are
// never swept regardless of age.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.Job.Delete().
		Where(
			job.CreatedAtLT(cutoff),
			job.StatusIn(job.StatusCompleted, job.StatusFailed, job.StatusCancelled),
		).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return n, nil
}

func newJobID() string {
	return uuid.NewString()
}

func isTerminal(s job.Status) bool {
	switch s {
	case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		return true
	default:
		return false
	}
}

func toJob(row *ent.Job) *jobstore.Job {
	out := &jobstore.Job{
		ID:        row.ID,
		AgentID:   row.AgentID,
		TenantID:  row.TenantID,
		Status:    jobstore.Status(row.Status),
		Progress:  row.Progress,
		Output:    row.Output,
		CreatedAt: row.CreatedAt,
	}
	if row.Input != nil {
		out.Input = row.Input
	}
	if row.UserID != nil {
		out.UserID = *row.UserID
	}
	if row.WebhookURL != nil {
		out.WebhookURL = *row.WebhookURL
	}
	if row.Provider != nil {
		out.Provider = *row.Provider
	}
	if row.WorkerID != nil {
		out.WorkerID = *row.WorkerID
	}
	if row.Cost != nil {
		out.Cost = row.Cost
	}
	if row.ErrorMessage != nil || row.ErrorCode != nil {
		detail := &jobstore.ErrorDetail{}
		if row.ErrorMessage != nil {
			detail.Message = *row.ErrorMessage
		}
		if row.ErrorCode != nil {
			detail.Code = *row.ErrorCode
		}
		out.Error = detail
	}
	if row.StartedAt != nil {
		out.StartedAt = row.StartedAt
	}
	if row.CompletedAt != nil {
		out.CompletedAt = row.CompletedAt
	}
	if row.EstimatedDurationMs != nil {
		out.EstimatedDuration = time.Duration(*row.EstimatedDurationMs) * time.Millisecond
	}
	return out
}
