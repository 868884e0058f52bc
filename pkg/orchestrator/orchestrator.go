package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmkt/marketplace/pkg/apperror"
	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/fairqueue"
	"github.com/agentmkt/marketplace/pkg/jobstore"
	"github.com/agentmkt/marketplace/pkg/pii"
	"github.com/agentmkt/marketplace/pkg/policy"
	"github.com/agentmkt/marketplace/pkg/provenance"
	"github.com/agentmkt/marketplace/pkg/streamhub"
	"github.com/agentmkt/marketplace/pkg/versionregistry"
)

// Writer receives the events of one streaming execution, mirroring
// externalagent.StreamWriter one layer up for in-process callers
// (HTTP handlers bridging to SSE/WebSocket transports, or tests).
type Writer interface {
	WriteEvent(streamhub.Event) error
}

// Orchestrator is the single entry point described in spec.md §4.1. It
// wires together every other component without owning their state.
type Orchestrator struct {
	cfg Config

	queue    *fairqueue.Queue
	jobs     jobstore.Store
	hub      *streamhub.Hub
	pol      *policy.Engine
	versions *versionregistry.Registry
	agents   *externalagent.Registry
	proxy    *externalagent.Proxy
	prov     *provenance.Log
	webhook  WebhookSender
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	waiters map[string]chan struct{}

	idem idempotencyCache

	workerCtx    context.Context
	workerCancel context.CancelFunc
	wg           sync.WaitGroup
	started      bool
}

// Deps bundles the components the orchestrator wires together. Every
// field is required except Webhook, which may be nil in deployments
// that opt out of webhook delivery (terminal transitions simply skip
// dispatch), and Logger, which defaults to slog.Default() when nil.
type Deps struct {
	Queue      *fairqueue.Queue
	Jobs       jobstore.Store
	Hub        *streamhub.Hub
	Policy     *policy.Engine
	Versions   *versionregistry.Registry
	Agents     *externalagent.Registry
	Proxy      *externalagent.Proxy
	Provenance *provenance.Log
	Webhook    WebhookSender
	Logger     *slog.Logger
}

// New creates an Orchestrator. Call Start to launch its worker pool.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.DefaultJobTimeout <= 0 {
		cfg.DefaultJobTimeout = DefaultConfig().DefaultJobTimeout
	}
	if cfg.DefaultSyncTimeout <= 0 {
		cfg.DefaultSyncTimeout = DefaultConfig().DefaultSyncTimeout
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultConfig().IdempotencyTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		queue:    deps.Queue,
		jobs:     deps.Jobs,
		hub:      deps.Hub,
		pol:      deps.Policy,
		versions: deps.Versions,
		agents:   deps.Agents,
		proxy:    deps.Proxy,
		prov:     deps.Provenance,
		webhook:  deps.Webhook,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
		waiters:  make(map[string]chan struct{}),
		idem:     newIdempotencyCache(cfg.IdempotencyTTL),
	}
}

// Start launches cfg.WorkerCount goroutines that pull admitted items
// off the fair queue and run them. Safe to call once; subsequent calls
// are no-ops, mirroring the teacher's WorkerPool.Start.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.started {
		return
	}
	o.started = true
	o.workerCtx, o.workerCancel = context.WithCancel(ctx)

	for i := 0; i < o.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		o.wg.Add(1)
		go o.runWorker(workerID)
	}
	o.logger.Info("orchestrator: worker pool started", "worker_count", o.cfg.WorkerCount)
}

// Stop cancels the worker context, which also cancels every in-flight
// job, and waits for all workers to return.
func (o *Orchestrator) Stop() {
	if !o.started {
		return
	}
	o.workerCancel()
	o.wg.Wait()
	o.started = false
	o.logger.Info("orchestrator: worker pool stopped")
}

func (o *Orchestrator) runWorker(workerID string) {
	defer o.wg.Done()
	for {
		item, err := o.queue.Dequeue(o.workerCtx)
		if err != nil {
			return
		}
		o.runJob(workerID, item)
	}
}

// Submit implements spec.md §4.1's submit(): pre-checks, creates a
// pending Job, enqueues it, and returns immediately.
func (o *Orchestrator) Submit(ctx context.Context, spec SubmitSpec) (string, error) {
	job, err := o.admit(ctx, spec)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// ExecuteSync implements spec.md §4.1's executeSync(): identical
// pre-checks, then blocks until the job reaches a terminal state or
// timeout elapses.
func (o *Orchestrator) ExecuteSync(ctx context.Context, spec SubmitSpec, timeout time.Duration) (*jobstore.Job, error) {
	if timeout <= 0 {
		timeout = o.cfg.DefaultSyncTimeout
	}

	var waiter chan struct{}
	job, err := o.admitWithPreEnqueue(ctx, spec, func(jobID string) {
		waiter = o.registerWaiter(jobID)
	})
	if err != nil {
		return nil, err
	}
	defer o.clearWaiter(job.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return o.jobs.Get(job.ID)
	case <-timer.C:
		return nil, apperror.Timeout(fmt.Sprintf("orchestrator: job %s did not complete within %s", job.ID, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteStreaming implements spec.md §4.1's executeStreaming():
// identical pre-checks, then subscribes writer to the stream hub for
// the new run id (the job id) and relays every event until the run
// closes or ctx is cancelled.
func (o *Orchestrator) ExecuteStreaming(ctx context.Context, spec SubmitSpec, writer Writer) error {
	var sub *streamhub.Subscriber
	clientID := "orchestrator-caller-" + uuid.NewString()
	job, err := o.admitWithPreEnqueue(ctx, spec, func(jobID string) {
		sub = o.hub.Subscribe(clientID, jobID)
	})
	if err != nil {
		return err
	}
	defer o.hub.Unsubscribe(clientID, job.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.Ch:
			if !ok {
				return nil
			}
			if err := writer.WriteEvent(evt); err != nil {
				return err
			}
			if evt.Type == streamhub.EventDone {
				return nil
			}
		}
	}
}

// Cancel requests cancellation of a job. A pending job is simply
// transitioned to cancelled; a processing job's worker goroutine is
// interrupted via its registered cancel function, per spec.md §5.
func (o *Orchestrator) Cancel(jobID string) error {
	if err := o.jobs.Cancel(jobID); err != nil {
		return err
	}
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	if cancelled, err := o.jobs.Get(jobID); err == nil {
		o.notifyWebhook(cancelled, "job.cancelled")
	}
	return nil
}

// GetJob returns one job's current snapshot.
func (o *Orchestrator) GetJob(jobID string) (*jobstore.Job, error) {
	return o.jobs.Get(jobID)
}

// ListJobs returns a tenant's jobs per filter.
func (o *Orchestrator) ListJobs(tenantID string, filter jobstore.Filter) ([]*jobstore.Job, error) {
	return o.jobs.FindByTenant(tenantID, filter)
}

// admit runs the pre-checks common to Submit/ExecuteSync/ExecuteStreaming
// (spec.md §4.1), then creates and enqueues the Job.
func (o *Orchestrator) admit(ctx context.Context, spec SubmitSpec) (*jobstore.Job, error) {
	return o.admitWithPreEnqueue(ctx, spec, nil)
}

// admitWithPreEnqueue runs the shared pre-checks, creates the Job, and
// enqueues it. When preEnqueue is non-nil it runs after the Job is
// created but before the item becomes visible to workers, so a caller
// that needs to subscribe to the stream hub or register a completion
// waiter cannot race a worker that dequeues and finishes the job
// before it has anywhere to deliver the result.
func (o *Orchestrator) admitWithPreEnqueue(ctx context.Context, spec SubmitSpec, preEnqueue func(jobID string)) (*jobstore.Job, error) {
	if spec.AgentID == "" {
		return nil, apperror.InvalidInput("agentId", "agent id is required")
	}
	if spec.TenantID == "" {
		return nil, apperror.InvalidInput("tenantId", "tenant id is required")
	}

	if cached, ok := o.idem.get(spec.IdempotencyKey); ok {
		if job, err := o.jobs.Get(cached); err == nil {
			return job, nil
		}
	}

	if _, ok := o.agents.Config(spec.AgentID); !ok {
		return nil, apperror.AgentNotFound(spec.AgentID)
	}

	decision := o.pol.Evaluate(ctx, policy.Request{
		TenantID: spec.TenantID,
		Subject:  map[string]any{"id": spec.UserID, "tenantId": spec.TenantID},
		Resource: map[string]any{"type": "agent", "id": spec.AgentID},
		Action:   "execute",
	})
	if !decision.Allowed {
		return nil, apperror.PermissionDenied(decision.Reason)
	}

	if _, err := o.versions.CheckBeforeUse(spec.AgentID); err != nil {
		return nil, err
	}

	if !o.agents.Available(spec.AgentID) {
		return nil, apperror.AgentUnavailable(spec.AgentID)
	}

	job, err := o.jobs.Create(jobstore.CreateSpec{
		AgentID:           spec.AgentID,
		TenantID:          spec.TenantID,
		UserID:            spec.UserID,
		Input:             spec.Input,
		WebhookURL:        spec.WebhookURL,
		EstimatedDuration: o.cfg.DefaultJobTimeout,
	})
	if err != nil {
		return nil, apperror.Internal(err)
	}

	if preEnqueue != nil {
		preEnqueue(job.ID)
	}

	if err := o.queue.Enqueue(&fairqueue.Item{
		ID:       job.ID,
		TenantID: spec.TenantID,
		AgentID:  spec.AgentID,
		Priority: spec.Priority,
		Payload:  spec,
	}); err != nil {
		_ = o.jobs.Cancel(job.ID)
		return nil, err
	}

	if spec.IdempotencyKey != "" {
		o.idem.put(spec.IdempotencyKey, job.ID)
	}

	return job, nil
}

// runJob drives one dequeued item to a terminal state. It is the sole
// place that unifies sync/async/streaming execution: every job is
// dispatched through Proxy.ExecuteStreaming via a hubWriter, since
// ExecuteStreaming normalizes every upstream transport into one
// WriteEvent sequence regardless of how the caller invoked the
// orchestrator.
func (o *Orchestrator) runJob(workerID string, item *fairqueue.Item) {
	defer o.queue.Release(item.TenantID)

	job, err := o.jobs.Get(item.ID)
	if err != nil {
		o.logger.Error("orchestrator: dequeued item has no job record", "job_id", item.ID, "error", err)
		return
	}

	spec, _ := item.Payload.(SubmitSpec)
	traceID := spec.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	timeout := job.EstimatedDuration
	if timeout <= 0 {
		timeout = o.cfg.DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(o.workerCtx, timeout)
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, job.ID)
		o.mu.Unlock()
		cancel()
		o.signalWaiter(job.ID)
	}()

	provider := job.AgentID
	if err := o.jobs.MarkProcessing(job.ID, workerID, provider); err != nil {
		o.logger.Warn("orchestrator: could not mark job processing", "job_id", job.ID, "error", err)
		return
	}

	scope := pii.NewScope()
	res, err := scope.Tokenize(job.Input)
	if err != nil {
		o.failJob(ctx, job, traceID, apperror.Internal(fmt.Errorf("tokenize input: %w", err)))
		return
	}

	o.hub.Publish(job.ID, streamhub.EventStart, nil, traceID)

	hw := newHubWriter(ctx, o.hub, o.jobs, o.prov, scope, job.ID, traceID, job.TenantID, spec.Debug)
	execErr := o.proxy.ExecuteStreaming(ctx, job.AgentID, externalagent.ExecuteRequest{
		Task:      res.Tokenized,
		RequestID: traceID,
	}, hw)

	output, streamErrMsg := hw.finalOutput()

	if execErr != nil {
		o.failJob(ctx, job, traceID, execErr)
		return
	}
	if streamErrMsg != "" {
		o.failJob(ctx, job, traceID, apperror.UpstreamRejected(0, streamErrMsg))
		return
	}

	if err := o.jobs.MarkCompleted(job.ID, output, nil); err != nil {
		o.logger.Error("orchestrator: markCompleted failed", "job_id", job.ID, "error", err)
		return
	}
	completed, _ := o.jobs.Get(job.ID)
	o.notifyWebhook(completed, "job.completed")
}

func (o *Orchestrator) failJob(ctx context.Context, job *jobstore.Job, traceID string, err error) {
	kind := apperror.KindOf(err)
	o.prov.AppendError(ctx, traceID, job.ID, "", job.TenantID, provenance.ErrorDetail{
		Message: err.Error(),
		Code:    string(kind),
	})
	if mErr := o.jobs.MarkFailed(job.ID, err.Error(), string(kind)); mErr != nil {
		o.logger.Error("orchestrator: markFailed failed", "job_id", job.ID, "error", mErr)
		return
	}
	o.hub.Publish(job.ID, streamhub.EventDone, nil, traceID)
	failed, _ := o.jobs.Get(job.ID)
	o.notifyWebhook(failed, "job.failed")
}

func (o *Orchestrator) notifyWebhook(job *jobstore.Job, event string) {
	if job == nil || job.WebhookURL == "" || o.webhook == nil {
		return
	}
	payload := WebhookPayload{
		Event:   event,
		JobID:   job.ID,
		AgentID: job.AgentID,
		Status:  job.Status,
		Output:  job.Output,
		Error:   job.Error,
	}
	go o.webhook.Deliver(context.Background(), job.WebhookURL, payload)
}

func (o *Orchestrator) registerWaiter(jobID string) chan struct{} {
	ch := make(chan struct{})
	o.mu.Lock()
	o.waiters[jobID] = ch
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) clearWaiter(jobID string) {
	o.mu.Lock()
	delete(o.waiters, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) signalWaiter(jobID string) {
	o.mu.Lock()
	ch, ok := o.waiters[jobID]
	if ok {
		delete(o.waiters, jobID)
	}
	o.mu.Unlock()
	if ok {
		close(ch)
	}
}
