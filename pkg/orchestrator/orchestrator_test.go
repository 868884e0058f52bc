package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmkt/marketplace/pkg/apperror"
	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/fairqueue"
	"github.com/agentmkt/marketplace/pkg/jobstore"
	"github.com/agentmkt/marketplace/pkg/policy"
	"github.com/agentmkt/marketplace/pkg/provenance"
	"github.com/agentmkt/marketplace/pkg/streamhub"
	"github.com/agentmkt/marketplace/pkg/versionregistry"
)

// recordingWebhook is a fake orchestrator.WebhookSender that records
// every delivery under a mutex, mirroring externalagent's
// recordingWriter test fixture.
type recordingWebhook struct {
	mu         sync.Mutex
	deliveries []WebhookPayload
}

func (r *recordingWebhook) Deliver(_ context.Context, _ string, payload WebhookPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, payload)
}

func (r *recordingWebhook) snapshot() []WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WebhookPayload, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// recordingStreamWriter is a fake orchestrator.Writer.
type recordingStreamWriter struct {
	mu     sync.Mutex
	events []streamhub.Event
}

func (w *recordingStreamWriter) WriteEvent(e streamhub.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *recordingStreamWriter) snapshot() []streamhub.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]streamhub.Event, len(w.events))
	copy(out, w.events)
	return out
}

// testHarness bundles a fully wired Orchestrator plus the fake agent
// server backing it, and allows per-test policy overrides.
type testHarness struct {
	orch    *Orchestrator
	server  *httptest.Server
	policy  *policy.Engine
	webhook *recordingWebhook
}

// newHarness wires every dependency against an in-memory store and one
// registered agent ("agent-1") whose HTTP behavior is driven by handler.
func newHarness(t *testing.T, handler http.HandlerFunc) *testHarness {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	agents := externalagent.NewRegistry(nil, nil)
	agents.Register(context.Background(), externalagent.Config{
		ID:             "agent-1",
		BaseURL:        srv.URL,
		Enabled:        true,
		HealthInterval: 0,
		MaxConcurrency: 10,
		Protocol:       externalagent.StreamNone,
	})
	proxy := externalagent.NewProxy(agents, nil)

	pol := policy.NewEngine(nil)
	pol.SetPolicies([]*policy.Policy{
		{
			ID:      "allow-all",
			Priority: 100,
			Effect:  policy.EffectAllow,
			Enabled: true,
			Actions: policy.Actions{Allowed: []string{"*"}},
		},
	})

	versions := versionregistry.New(versionregistry.DefaultConfig(), nil)
	versions.Register(&versionregistry.Record{ID: "agent-1", Kind: versionregistry.KindAgent, SemVer: "1.0.0"})

	wh := &recordingWebhook{}

	orch := New(Config{WorkerCount: 2, DefaultJobTimeout: 2 * time.Second, DefaultSyncTimeout: 2 * time.Second}, Deps{
		Queue:      fairqueue.New(nil, nil),
		Jobs:       jobstore.NewMemoryStore(),
		Hub:        streamhub.New(streamhub.DefaultConfig()),
		Policy:     pol,
		Versions:   versions,
		Agents:     agents,
		Proxy:      proxy,
		Provenance: provenance.NewLog(provenance.NewMemoryStore(), nil),
		Webhook:    wh,
	})
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return &testHarness{orch: orch, server: srv, policy: pol, webhook: wh}
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	var req externalagent.ExecuteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	json.NewEncoder(w).Encode(externalagent.ExecuteResponse{Result: "echo: " + req.Task})
}

func TestSubmit_HappyPathCompletesAsync(t *testing.T) {
	h := newHarness(t, echoHandler)

	jobID, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := h.orch.GetJob(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	job, err := h.orch.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, "echo: hello", job.Output)
}

func TestSubmit_UnknownAgentFails(t *testing.T) {
	h := newHarness(t, echoHandler)

	_, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:  "missing-agent",
		TenantID: "tenant-1",
		Input:    "hello",
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindAgentNotFound))
}

func TestSubmit_PolicyDenyRejects(t *testing.T) {
	h := newHarness(t, echoHandler)
	h.policy.SetPolicies([]*policy.Policy{
		{ID: "deny-all", Priority: 1, Effect: policy.EffectDeny, Enabled: true, Actions: policy.Actions{Allowed: []string{"*"}}},
	})

	_, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindPermissionDenied))
}

func TestSubmit_IdempotencyKeyDedups(t *testing.T) {
	h := newHarness(t, echoHandler)

	spec := SubmitSpec{AgentID: "agent-1", TenantID: "tenant-1", Input: "hello", IdempotencyKey: "key-1"}
	id1, err := h.orch.Submit(context.Background(), spec)
	require.NoError(t, err)
	id2, err := h.orch.Submit(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestExecuteSync_HappyPath(t *testing.T) {
	h := newHarness(t, echoHandler)

	job, err := h.orch.ExecuteSync(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, job.Status)
	assert.Equal(t, "echo: hello", job.Output)
}

func TestExecuteSync_TimesOutWhenAgentNeverResponds(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	// Registered after newHarness so it runs before srv.Close, which
	// waits for the blocked handlers to return.
	t.Cleanup(func() { close(block) })

	_, err := h.orch.ExecuteSync(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	}, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindTimeout))
}

func TestExecuteStreaming_RelaysEventsToWriter(t *testing.T) {
	h := newHarness(t, echoHandler)

	w := &recordingStreamWriter{}
	err := h.orch.ExecuteStreaming(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	}, w)
	require.NoError(t, err)

	events := w.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, streamhub.EventStart, events[0].Type)
	assert.Equal(t, streamhub.EventDone, events[len(events)-1].Type)
}

func TestCancel_PendingJobNeverRuns(t *testing.T) {
	block := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
		json.NewEncoder(w).Encode(externalagent.ExecuteResponse{Result: "late"})
	})
	// Registered after newHarness so it runs before srv.Close, which
	// waits for the blocked handlers to return.
	t.Cleanup(func() { close(block) })

	jobID, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.Cancel(jobID))

	job, err := h.orch.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCancelled, job.Status)
}

func TestSubmit_DeliversWebhookOnCompletion(t *testing.T) {
	h := newHarness(t, echoHandler)

	jobID, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:    "agent-1",
		TenantID:   "tenant-1",
		Input:      "hello",
		WebhookURL: "http://callback.invalid/hook",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.webhook.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	deliveries := h.webhook.snapshot()
	require.Len(t, deliveries, 1)
	assert.Equal(t, jobID, deliveries[0].JobID)
	assert.Equal(t, "job.completed", deliveries[0].Event)
}

func TestSubmit_VersionSunsetRejects(t *testing.T) {
	h := newHarness(t, echoHandler)
	require.NoError(t, h.orch.versions.Deprecate("agent-1", "replaced", "agent-2", nil))
	require.NoError(t, h.orch.versions.Sunset("agent-1"))

	_, err := h.orch.Submit(context.Background(), SubmitSpec{
		AgentID:  "agent-1",
		TenantID: "tenant-1",
		Input:    "hello",
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindAgentSunset))
}
