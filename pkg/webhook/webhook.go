// Package webhook delivers terminal job notifications to caller-supplied
// URLs, per spec.md §6's webhook payload format.
//
// Grounded on the teacher's pkg/slack/service.go: a nil-safe Service
// whose notification methods are no-ops on a nil receiver, logging and
// swallowing delivery failures rather than surfacing them to the
// caller (spec.md §4.1's webhook delivery is fire-and-forget the same
// way Slack notifications are). The retry/backoff loop generalizes the
// teacher's single-attempt PostMessage into the at-least-once delivery
// spec.md §6 calls for, using cenkalti/backoff/v4 (already pulled in
// transitively by the teacher's testcontainers dependency) rather than
// hand-rolling the retry arithmetic pkg/externalagent's proxy already
// hand-rolls for a different concern.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentmkt/marketplace/pkg/orchestrator"
)

// Config tunes delivery timeouts and retry behavior.
type Config struct {
	RequestTimeout time.Duration
	MaxElapsedTime time.Duration // total time spent retrying one delivery before giving up
}

// DefaultConfig mirrors the teacher's config-defaults idiom
// (pkg/config/retention.go): usable without an operator tuning it.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 5 * time.Second,
		MaxElapsedTime: 30 * time.Second,
	}
}

// Service delivers orchestrator.WebhookPayload notifications over HTTP
// POST. Nil-safe: Deliver is a no-op when the receiver is nil, matching
// pkg/slack.Service's nil-safety so callers need not guard every call
// site when webhook delivery is disabled.
type Service struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

var _ orchestrator.WebhookSender = (*Service)(nil)

// NewService creates a Service. httpClient may be nil, in which case a
// client with no default timeout is used (per-attempt timeouts are
// applied via context).
func NewService(cfg Config, httpClient *http.Client, logger *slog.Logger) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = DefaultConfig().MaxElapsedTime
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{httpClient: httpClient, cfg: cfg, logger: logger.With("component", "webhook")}
}

// Deliver POSTs payload as JSON to url, retrying transient failures
// with exponential backoff for up to cfg.MaxElapsedTime. Fail-open:
// the final error, if any, is logged and never returned to the caller
// — terminal job state is already durable in the job store regardless
// of whether the webhook ever lands.
func (s *Service) Deliver(ctx context.Context, url string, payload orchestrator.WebhookPayload) {
	if s == nil || url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("webhook: marshal payload", "job_id", payload.JobID, "error", err)
		return
	}

	bo := backoff.WithContext(backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), s.cfg.MaxElapsedTime), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		sendErr := s.send(ctx, url, body)
		if sendErr != nil {
			s.logger.Warn("webhook: delivery attempt failed", "job_id", payload.JobID, "event", payload.Event, "attempt", attempt, "error", sendErr)
		}
		return sendErr
	}, bo)

	if err != nil {
		s.logger.Error("webhook: delivery abandoned", "job_id", payload.JobID, "event", payload.Event, "attempts", attempt, "error", err)
	}
}

// send performs one delivery attempt. Non-2xx responses and transport
// errors are retryable; the caller's backoff policy decides whether to
// try again.
func (s *Service) send(ctx context.Context, url string, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
