package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// VersionRecord holds the schema definition for an agent/tool's
// lifecycle entry, backing pkg/versionregistry.Record so deprecation
// and sunset state survive a process restart and the registry can be
// rehydrated at startup.
type VersionRecord struct {
	ent.Schema
}

// Fields of the VersionRecord.
func (VersionRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("record_id").
			Unique().
			Immutable(),
		field.Enum("kind").
			Values("agent", "tool").
			Immutable(),
		field.String("sem_ver"),
		field.Enum("status").
			Values("active", "deprecated", "sunset").
			Default("active"),
		field.Time("deprecated_at").Optional().Nillable(),
		field.String("reason").Optional().Nillable(),
		field.String("replacement_id").Optional().Nillable(),
		field.Time("sunset_date").Optional().Nillable(),
		field.String("min_compatible_version").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

// Indexes of the VersionRecord.
func (VersionRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("kind"),
		index.Fields("status"),
	}
}
