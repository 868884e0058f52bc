// Package retention periodically purges terminal jobs and provenance
// records past their configured retention window.
//
// Grounded on the teacher's pkg/cleanup/service.go: the same
// cancel-context run loop, "run once immediately then tick" startup,
// and per-kind sweep methods that log a count only when something was
// actually deleted.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentmkt/marketplace/pkg/config"
)

// JobPurger deletes terminal jobs created before cutoff.
type JobPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ProvenancePurger deletes provenance records appended before cutoff.
type ProvenancePurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Service runs the background retention sweep.
type Service struct {
	cfg        *config.RetentionConfig
	jobs       JobPurger
	provenance ProvenancePurger
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a Service. Call Start to begin the background
// sweep loop.
func NewService(cfg *config.RetentionConfig, jobs JobPurger, provenance ProvenancePurger, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, jobs: jobs, provenance: provenance, logger: logger}
}

// Start launches the background sweep loop if SweepInterval is
// positive. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("retention sweep started",
		"job_retention", s.cfg.JobRetention,
		"provenance_retention", s.cfg.ProvenanceRetention,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("retention sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep immediately; exported so callers (and
// tests) can drive it without waiting for the ticker.
func (s *Service) SweepOnce(ctx context.Context) {
	s.sweepOnce(ctx)
}

func (s *Service) sweepOnce(ctx context.Context) {
	s.purgeJobs(ctx)
	s.purgeProvenance(ctx)
}

func (s *Service) purgeJobs(ctx context.Context) {
	if s.jobs == nil || s.cfg.JobRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.JobRetention)
	n, err := s.jobs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: job purge failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention: purged old jobs", "count", n)
	}
}

func (s *Service) purgeProvenance(ctx context.Context) {
	if s.provenance == nil || s.cfg.ProvenanceRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.ProvenanceRetention)
	n, err := s.provenance.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: provenance purge failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention: purged old provenance records", "count", n)
	}
}
