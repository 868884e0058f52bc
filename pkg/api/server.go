// Package api exposes the marketplace's HTTP surface: job submission
// and lookup, synchronous and streaming agent execution, and agent
// directory endpoints, per spec.md §6.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	emw "github.com/labstack/echo/v5/middleware"

	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/orchestrator"
	"github.com/agentmkt/marketplace/pkg/storage"
	"github.com/agentmkt/marketplace/pkg/streamhub"
)

// Server is the marketplace's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	orch   *orchestrator.Orchestrator
	agents *externalagent.Registry
	hub    *streamhub.Hub
	db     *storage.Client
	auth   *Authenticator
	schema *SchemaValidator

	// syncWaitBudget bounds how long POST /agents/{id}/run blocks before
	// falling back to a 202 async response, per spec.md §6's "200 ok,
	// 202 async queued" dual terminal code.
	syncWaitBudget time.Duration
}

// Config tunes Server behavior beyond its required dependencies.
type Config struct {
	SyncWaitBudget time.Duration
}

// DefaultConfig mirrors orchestrator.DefaultConfig's "usable without an
// operator tuning it" idiom.
func DefaultConfig() Config {
	return Config{SyncWaitBudget: 5 * time.Second}
}

// NewServer creates a new API server with Echo v5, wiring the
// orchestrator, agent registry, and stream hub the handlers depend on.
func NewServer(cfg Config, orch *orchestrator.Orchestrator, agents *externalagent.Registry, hub *streamhub.Hub, db *storage.Client, auth *Authenticator) *Server {
	if cfg.SyncWaitBudget <= 0 {
		cfg = DefaultConfig()
	}

	e := echo.New()

	s := &Server{
		echo:           e,
		orch:           orch,
		agents:         agents,
		hub:            hub,
		db:             db,
		auth:           auth,
		schema:         NewSchemaValidator(),
		syncWaitBudget: cfg.SyncWaitBudget,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers every route from spec.md §6's inbound HTTP
// table.
func (s *Server) setupRoutes() {
	s.echo.Use(emw.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(s.tenantMiddleware())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	v1.POST("/jobs", s.submitJobHandler)
	v1.GET("/jobs", s.listJobsHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)

	v1.POST("/agents/:id/run", s.runAgentHandler)
	v1.POST("/agents/:id/stream", s.streamAgentHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.GET("/agents", s.listAgentsHandler)

	v1.GET("/stream/ws", s.wsHandler)
}

// Start starts the HTTP server on addr and blocks until ListenAndServe
// returns.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status, err := storage.Health(reqCtx, s.db.DB())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: "unhealthy"})
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:   status.Status,
		Database: status,
	})
}
