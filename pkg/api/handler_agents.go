package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmkt/marketplace/pkg/apperror"
	"github.com/agentmkt/marketplace/pkg/streamhub"
)

// runAgentHandler handles POST /api/v1/agents/:id/run: spec.md §6's
// sync-execution route, with dual terminal codes "200 ok, 202 async
// queued". It submits the job once (so the client always gets a job
// id, even on the async branch) and polls GetJob on a short interval
// until either a terminal state or s.syncWaitBudget elapses; the
// elapsed branch returns 202 with the job's current snapshot so a
// caller can resume watching it via GET /jobs/:id without resubmitting.
func (s *Server) runAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	id := identityFrom(c)

	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.schema.Validate(agentID, req.Input); err != nil {
		return mapAppError(apperror.InvalidInput("input", err.Error()))
	}

	spec := submitSpecFrom(id, agentID, req)
	jobID, err := s.orch.Submit(c.Request().Context(), spec)
	if err != nil {
		return mapAppError(err)
	}

	deadline := time.Now().Add(s.syncWaitBudget)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := s.orch.GetJob(jobID)
		if err != nil {
			return mapAppError(err)
		}
		if job.Status.IsTerminal() {
			return c.JSON(http.StatusOK, newJobResponse(job))
		}
		if !time.Now().Before(deadline) {
			return c.JSON(http.StatusAccepted, newJobResponse(job))
		}

		select {
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		case <-ticker.C:
		}
	}
}

// streamAgentHandler handles POST /api/v1/agents/:id/stream: SSE
// execution, per spec.md §6. It runs the orchestrator's full
// ExecuteStreaming (admission, subscribe-before-enqueue, and relay)
// with an sseWriter sink, rather than calling streamhub.ServeSSE
// directly — ServeSSE subscribes on its own, which would race a
// separate Submit call the same way ExecuteSync's waiter registration
// must happen before the job is enqueued.
func (s *Server) streamAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	id := identityFrom(c)

	var req SubmitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.schema.Validate(agentID, req.Input); err != nil {
		return mapAppError(apperror.InvalidInput("input", err.Error()))
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseWriter{w: w, flusher: flusher}
	spec := submitSpecFrom(id, agentID, req)
	if err := s.orch.ExecuteStreaming(c.Request().Context(), spec, sink); err != nil {
		// Headers are already sent; best-effort error frame only.
		_ = sink.WriteEvent(streamhub.Event{Type: streamhub.EventError, Data: map[string]string{"message": err.Error()}, Timestamp: time.Now()})
	}
	return nil
}

// sseWriter adapts an http.ResponseWriter to orchestrator.Writer, using
// the same wire format as streamhub.ServeSSE (spec.md §6):
// "event: <type>\ndata: <json>\nid: <seq>\n\n".
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) WriteEvent(evt streamhub.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\nid: %d\n\n", evt.Type, payload, evt.Seq); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agentID := c.Param("id")
	cfg, ok := s.agents.Config(agentID)
	if !ok {
		return mapAppError(apperror.AgentNotFound(agentID))
	}
	state, _ := s.agents.State(agentID)
	return c.JSON(http.StatusOK, newAgentResponse(agentID, cfg, state))
}

// Discovery scoring weights, per spec.md §9's open question: "not
// justified; treat as tunable constants."
const (
	weightCategory     = 0.6
	weightTier         = 0.4
	weightAvailability = 0.3
	weightRelevance    = 0.2
)

// listAgentsHandler handles GET /api/v1/agents: a discovery search over
// the registry filtered by category, tier, availability, and a
// case-insensitive name/description search, per spec.md §6. When any
// filter is supplied results are ranked by the weighted score of the
// dimensions present rather than hard-excluded, so a near-miss (e.g.
// right category, wrong tier) still surfaces below an exact match
// instead of disappearing.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	category := c.QueryParam("category")
	tier := c.QueryParam("tier")
	search := strings.ToLower(c.QueryParam("search"))
	availableOnly := c.QueryParam("availability") == "available"
	anyFilter := category != "" || tier != "" || search != "" || availableOnly

	type scored struct {
		resp  *AgentResponse
		score float64
	}

	ids := s.agents.List()
	candidates := make([]scored, 0, len(ids))
	for _, id := range ids {
		cfg, ok := s.agents.Config(id)
		if !ok {
			continue
		}
		state, _ := s.agents.State(id)
		resp := newAgentResponse(id, cfg, state)

		var score float64
		if category != "" && strings.EqualFold(resp.Category, category) {
			score += weightCategory
		}
		if tier != "" && strings.EqualFold(resp.Tier, tier) {
			score += weightTier
		}
		if availableOnly && s.agents.Available(id) {
			score += weightAvailability
		}
		if search != "" && (strings.Contains(strings.ToLower(resp.Name), search) ||
			strings.Contains(strings.ToLower(resp.Description), search)) {
			score += weightRelevance
		}

		if anyFilter && score == 0 {
			continue
		}
		candidates = append(candidates, scored{resp: resp, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].resp.ID < candidates[j].resp.ID
	})

	out := make([]*AgentResponse, len(candidates))
	for i, sc := range candidates {
		out[i] = sc.resp
	}
	return c.JSON(http.StatusOK, &AgentListResponse{Agents: out})
}
