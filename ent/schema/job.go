package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Job holds the schema definition for one asynchronous execution
// request. Adapted from the teacher's AlertSession schema: the same
// status-enum-plus-timestamps state machine, generalized from a fixed
// alert-investigation pipeline to an arbitrary agent job.
type Job struct {
	ent.Schema
}

// Fields of the Job.
func (Job) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("job_id").
			Unique().
			Immutable(),
		field.String("agent_id").Immutable(),
		field.String("tenant_id").Immutable(),
		field.String("user_id").Optional().Nillable().Immutable(),
		field.Enum("status").
			Values("pending", "processing", "completed", "failed", "cancelled").
			Default("pending"),
		field.Int("progress").Default(0),
		field.JSON("input", map[string]interface{}{}).Optional(),
		field.JSON("output", map[string]interface{}{}).Optional(),
		field.String("error_message").Optional().Nillable(),
		field.String("error_code").Optional().Nillable(),
		field.Float("cost").Optional().Nillable(),
		field.String("webhook_url").Optional().Nillable(),
		field.String("provider").Optional().Nillable(),
		field.String("worker_id").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
		field.Time("started_at").Optional().Nillable(),
		field.Time("completed_at").Optional().Nillable(),
		field.Int64("estimated_duration_ms").Optional().Nillable(),
	}
}

// Indexes of the Job.
func (Job) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "created_at"),
		index.Fields("tenant_id", "status"),
		index.Fields("status"),
		index.Fields("agent_id"),
	}
}
