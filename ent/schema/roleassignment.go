package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// RoleAssignment holds the schema definition for one subject's role
// grant within a tenant, backing pkg/policy.RoleAssignment so role
// membership survives a process restart.
type RoleAssignment struct {
	ent.Schema
}

// Fields of the RoleAssignment.
func (RoleAssignment) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("assignment_id").
			Unique().
			Immutable(),
		field.String("tenant_id").Immutable(),
		field.String("subject_id").Immutable(),
		field.String("role").Immutable(),
		field.Time("expires_at").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

// Indexes of the RoleAssignment.
func (RoleAssignment) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "subject_id").Unique(),
		index.Fields("role"),
	}
}
