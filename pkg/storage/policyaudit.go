package storage

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agentmkt/marketplace/ent"
	"github.com/agentmkt/marketplace/pkg/policy"
)

// PolicyAuditSink is an ent/pgx-backed policy.AuditSink, giving every
// Engine.Evaluate decision a durable audit trail instead of the
// in-memory MemoryAuditSink's process-lifetime buffer. Like
// pkg/webhook.Service, it fails open: a write failure is logged and
// swallowed rather than returned, so an audit-store outage never
// blocks an access decision already made.
type PolicyAuditSink struct {
	client *ent.Client
	logger *slog.Logger
}

var _ policy.AuditSink = (*PolicyAuditSink)(nil)

// NewPolicyAuditSink wraps client in a policy.AuditSink.
func NewPolicyAuditSink(client *ent.Client, logger *slog.Logger) *PolicyAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyAuditSink{client: client, logger: logger}
}

// Record implements policy.AuditSink.
func (s *PolicyAuditSink) Record(ctx context.Context, entry policy.AuditEntry) {
	builder := s.client.PolicyAudit.Create().
		SetID(uuid.NewString()).
		SetTenantID(entry.Request.TenantID).
		SetAction(entry.Request.Action).
		SetRequest(requestToMap(entry.Request)).
		SetAllowed(entry.Decision.Allowed).
		SetElapsedNanos(entry.Decision.ElapsedNanos).
		SetAt(entry.At)

	if entry.Decision.MatchedPolicyID != "" {
		builder = builder.SetMatchedPolicyID(entry.Decision.MatchedPolicyID)
	}
	if len(entry.MatchedPolicyIDs) > 0 {
		builder = builder.SetMatchedPolicyIds(entry.MatchedPolicyIDs)
	}
	if entry.Decision.Reason != "" {
		builder = builder.SetReason(entry.Decision.Reason)
	}

	if err := builder.Exec(ctx); err != nil {
		s.logger.Error("policy: audit write failed",
			"tenant_id", entry.Request.TenantID, "action", entry.Request.Action, "error", err)
	}
}

func requestToMap(req policy.Request) map[string]interface{} {
	return map[string]interface{}{
		"tenant_id": req.TenantID,
		"subject":   req.Subject,
		"resource":  req.Resource,
		"env":       req.Env,
		"action":    req.Action,
		"ip":        req.IP,
	}
}
