package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ExternalAgentRecord holds the schema definition for a marketplace
// listing: a registered external agent's durable configuration, kept
// so the in-memory externalagent.Registry can be rehydrated across a
// process restart. Adapted from the teacher's AlertSession immutable-
// config-field idiom, generalized to the marketplace's agent listing.
type ExternalAgentRecord struct {
	ent.Schema
}

// Fields of the ExternalAgentRecord.
func (ExternalAgentRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("agent_id").
			Unique().
			Immutable(),
		field.String("name"),
		field.String("category").Optional(),
		field.String("base_url"),
		field.String("stream_path").Optional(),
		field.Enum("protocol").
			Values("sse", "websocket", "chunked", "none").
			Default("none"),
		field.Enum("auth_method").
			Values("none", "api-key", "bearer", "basic").
			Default("none"),
		field.String("auth_secret_ref").Optional().Nillable().
			Comment("Reference into the secret store; never the raw credential"),
		field.Bool("enabled").Default(true),
		field.Int("max_concurrency").Default(1),
		field.Int64("health_interval_ms").Optional().Nillable(),
		field.JSON("metadata", map[string]interface{}{}).Optional(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

// Indexes of the ExternalAgentRecord.
func (ExternalAgentRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("category"),
		index.Fields("enabled"),
	}
}
