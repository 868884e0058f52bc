package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProvenanceRecord holds the schema definition for one append-only audit
// entry produced by an execution: an LLM call, a tool call, or an error.
// Adapted from the teacher's LLMInteraction/MCPInteraction schemas,
// collapsed into a single event-typed table since every event here shares
// the same trace/run/step addressing and hashing discipline.
type ProvenanceRecord struct {
	ent.Schema
}

// Fields of the ProvenanceRecord.
func (ProvenanceRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("record_id").
			Unique().
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.String("trace_id").Immutable(),
		field.String("run_id").Immutable(),
		field.String("step_id").Optional().Nillable().Immutable(),
		field.String("tenant_id").Immutable(),
		field.Enum("event_type").
			Values("llm_call", "tool_call", "error").
			Immutable(),

		// LLM metadata, present when event_type = llm_call.
		field.String("llm_model_id").Optional().Nillable().Immutable(),
		field.String("llm_prompt_hash").Optional().Nillable().Immutable(),
		field.Int("llm_input_tokens").Optional().Nillable().Immutable(),
		field.Int("llm_output_tokens").Optional().Nillable().Immutable(),
		field.Float("llm_cost").Optional().Nillable().Immutable(),
		field.Int("llm_duration_ms").Optional().Nillable().Immutable(),
		field.String("llm_effort").Optional().Nillable().Immutable(),

		// Tool metadata, present when event_type = tool_call.
		field.String("tool_name").Optional().Nillable().Immutable(),
		field.String("tool_version").Optional().Nillable().Immutable(),
		field.String("tool_args_hash").Optional().Nillable().Immutable(),
		field.String("tool_result_hash").Optional().Nillable().Immutable(),
		field.Bool("tool_side_effect_committed").Optional().Immutable(),
		field.Int("tool_duration_ms").Optional().Nillable().Immutable(),

		// Error metadata, present when event_type = error.
		field.String("error_message").Optional().Nillable().Immutable(),
		field.String("error_code").Optional().Nillable().Immutable(),

		// Full content is only persisted when the originating run has the
		// debug flag set; otherwise only the hash prefixes above are kept.
		field.JSON("debug_payload", map[string]interface{}{}).
			Optional(),
	}
}

// Indexes of the ProvenanceRecord.
func (ProvenanceRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("trace_id", "created_at"),
		index.Fields("run_id", "created_at"),
		index.Fields("tenant_id", "created_at"),
		index.Fields("event_type", "created_at"),
	}
}
