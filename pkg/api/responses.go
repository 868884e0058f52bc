package api

import (
	"time"

	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/jobstore"
	"github.com/agentmkt/marketplace/pkg/storage"
)

// JobResponse is the wire representation of a jobstore.Job.
type JobResponse struct {
	ID          string                `json:"id"`
	AgentID     string                `json:"agentId"`
	TenantID    string                `json:"tenantId"`
	Status      jobstore.Status       `json:"status"`
	Progress    int                   `json:"progress"`
	Input       any                   `json:"input,omitempty"`
	Output      any                   `json:"output,omitempty"`
	Error       *jobstore.ErrorDetail `json:"error,omitempty"`
	Cost        *float64              `json:"cost,omitempty"`
	Provider    string                `json:"provider,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	StartedAt   *time.Time            `json:"startedAt,omitempty"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
}

func newJobResponse(j *jobstore.Job) *JobResponse {
	return &JobResponse{
		ID:          j.ID,
		AgentID:     j.AgentID,
		TenantID:    j.TenantID,
		Status:      j.Status,
		Progress:    j.Progress,
		Input:       j.Input,
		Output:      j.Output,
		Error:       j.Error,
		Cost:        j.Cost,
		Provider:    j.Provider,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// SubmitJobResponse is returned by POST /api/v1/jobs (202). The
// async-fallback branch of POST /api/v1/agents/:id/run returns a
// JobResponse snapshot instead.
type SubmitJobResponse struct {
	JobID  string          `json:"jobId"`
	Status jobstore.Status `json:"status"`
}

// JobListResponse is returned by GET /api/v1/jobs.
type JobListResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

// AgentResponse is the wire representation of one registered external
// agent's config and live state.
type AgentResponse struct {
	ID             string                      `json:"id"`
	Name           string                      `json:"name,omitempty"`
	Description    string                      `json:"description,omitempty"`
	Category       string                      `json:"category,omitempty"`
	Tier           string                      `json:"tier,omitempty"`
	Health         externalagent.HealthStatus  `json:"health"`
	CircuitBroken  bool                        `json:"circuitBroken"`
	ActiveRequests int                         `json:"activeRequests"`
	TotalRequests  int64                       `json:"totalRequests"`
	Protocol       externalagent.StreamProtocol `json:"protocol"`
	Enabled        bool                        `json:"enabled"`
}

func newAgentResponse(id string, cfg externalagent.Config, state externalagent.State) *AgentResponse {
	resp := &AgentResponse{
		ID:             id,
		Health:         state.Health,
		CircuitBroken:  state.CircuitBroken,
		ActiveRequests: state.ActiveRequests,
		TotalRequests:  state.TotalRequests,
		Protocol:       cfg.Protocol,
		Enabled:        cfg.Enabled,
	}
	if state.Info != nil {
		resp.Name = state.Info.Name
		resp.Description = state.Info.Description
		resp.Category = state.Info.Category
		resp.Tier = state.Info.Tier
	}
	return resp
}

// AgentListResponse is returned by GET /api/v1/agents.
type AgentListResponse struct {
	Agents []*AgentResponse `json:"agents"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                `json:"status"`
	Database *storage.HealthStatus `json:"database,omitempty"`
}
