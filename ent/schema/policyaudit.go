package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PolicyAudit holds the schema definition for one recorded
// policy.Engine.Evaluate call, backing pkg/policy.AuditEntry via a
// durable policy.AuditSink. Request/Decision are schema-free at the Go
// level (map[string]any attributes) so they round-trip as JSON.
type PolicyAudit struct {
	ent.Schema
}

// Fields of the PolicyAudit.
func (PolicyAudit) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("audit_id").
			Unique().
			Immutable(),
		field.String("tenant_id").Immutable(),
		field.String("action").Immutable(),
		field.JSON("request", map[string]interface{}{}).Immutable(),
		field.Bool("allowed").Immutable(),
		field.String("matched_policy_id").Optional().Nillable().Immutable(),
		field.JSON("matched_policy_ids", []string{}).Optional().Immutable(),
		field.String("reason").Optional().Nillable().Immutable(),
		field.Int64("elapsed_nanos").Immutable(),
		field.Time("at").Default(time.Now).Immutable(),
	}
}

// Indexes of the PolicyAudit.
func (PolicyAudit) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "at"),
		index.Fields("action", "at"),
	}
}
