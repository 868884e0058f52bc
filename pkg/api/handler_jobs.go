package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmkt/marketplace/pkg/apperror"
	"github.com/agentmkt/marketplace/pkg/jobstore"
	"github.com/agentmkt/marketplace/pkg/orchestrator"
)

// submitJobHandler handles POST /api/v1/jobs: spec.md §6's async submit
// path, 202 on acceptance.
func (s *Server) submitJobHandler(c *echo.Context) error {
	id := identityFrom(c)

	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return mapAppError(apperror.InvalidInput("agentId", "agentId is required"))
	}
	if err := s.schema.Validate(req.AgentID, req.Input); err != nil {
		return mapAppError(apperror.InvalidInput("input", err.Error()))
	}

	jobID, err := s.orch.Submit(c.Request().Context(), submitSpecFrom(id, req.AgentID, req))
	if err != nil {
		return mapAppError(err)
	}

	return c.JSON(http.StatusAccepted, &SubmitJobResponse{JobID: jobID, Status: jobstore.StatusPending})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	job, err := s.orch.GetJob(jobID)
	if err != nil {
		return mapAppError(err)
	}

	id := identityFrom(c)
	if !id.Admin && job.TenantID != id.TenantID {
		return mapAppError(apperror.PermissionDenied("job belongs to another tenant"))
	}

	return c.JSON(http.StatusOK, newJobResponse(job))
}

// listJobsHandler handles GET /api/v1/jobs, scoped to the caller's
// tenant (cross-tenant listing is not exposed, even to admins — the
// spec's admin marker only widens single-resource reads by id).
func (s *Server) listJobsHandler(c *echo.Context) error {
	id := identityFrom(c)

	filter := jobstore.Filter{Order: jobstore.NewestFirst}
	filter.Status = jobstore.Status(c.QueryParam("status"))
	filter.AgentID = c.QueryParam("agentId")

	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		filter.Since = t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until: must be RFC3339")
		}
		filter.Until = t
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	jobs, err := s.orch.ListJobs(id.TenantID, filter)
	if err != nil {
		return mapAppError(err)
	}

	out := make([]*JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobResponse(j))
	}
	return c.JSON(http.StatusOK, &JobListResponse{Jobs: out})
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel.
func (s *Server) cancelJobHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}

	job, err := s.orch.GetJob(jobID)
	if err != nil {
		return mapAppError(err)
	}
	id := identityFrom(c)
	if !id.Admin && job.TenantID != id.TenantID {
		return mapAppError(apperror.PermissionDenied("job belongs to another tenant"))
	}

	if err := s.orch.Cancel(jobID); err != nil {
		return mapAppError(err)
	}

	job, err = s.orch.GetJob(jobID)
	if err != nil {
		return mapAppError(err)
	}
	return c.JSON(http.StatusOK, newJobResponse(job))
}

// submitSpecFrom builds an orchestrator.SubmitSpec from a resolved
// Identity and request body, shared by the async /jobs path and the
// sync/streaming /agents/:id/* paths.
func submitSpecFrom(id Identity, agentID string, req SubmitJobRequest) orchestrator.SubmitSpec {
	return orchestrator.SubmitSpec{
		AgentID:        agentID,
		TenantID:       id.TenantID,
		UserID:         id.Subject,
		Input:          req.Input,
		WebhookURL:     req.WebhookURL,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
		TraceID:        req.TraceID,
		Debug:          req.Debug,
	}
}
