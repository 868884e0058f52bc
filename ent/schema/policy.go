package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Policy holds the schema definition for one ABAC rule evaluated by
// pkg/policy.Engine. Conditions/actions/time/IP restrictions are kept
// as schema-free JSON blobs per spec.md §6 ("JSON-blob columns store
// schema-free attributes"), since policy.ConditionSet's operator set is
// already the validated, typed representation in memory — the row only
// needs to round-trip it.
type Policy struct {
	ent.Schema
}

// Fields of the Policy.
func (Policy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("policy_id").
			Unique().
			Immutable(),
		field.String("name"),
		field.String("tenant_id").Optional().Nillable().
			Comment("Empty/absent means a global policy"),
		field.Int("priority"),
		field.Enum("effect").Values("allow", "deny"),
		field.Bool("enabled").Default(true),
		field.JSON("subject", map[string]interface{}{}).Optional(),
		field.JSON("resource", map[string]interface{}{}).Optional(),
		field.JSON("environment", map[string]interface{}{}).Optional(),
		field.JSON("actions", map[string]interface{}{}).Optional(),
		field.JSON("time_window", map[string]interface{}{}).Optional(),
		field.JSON("ip_restriction", map[string]interface{}{}).Optional(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

// Indexes of the Policy.
func (Policy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "priority"),
		index.Fields("enabled"),
	}
}
