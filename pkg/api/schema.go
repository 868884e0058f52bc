package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates a job's input payload against the input
// schema registered for its target agent via Register. Schemas are not
// loaded from the agent registry's InfoCards automatically: only what
// has been passed to Register is enforced.
//
// There is no in-pack example using santhosh-tekuri/jsonschema — this
// component is grounded directly on the library's own documented API
// (NewCompiler / AddResource / Compile / Schema.Validate) rather than
// on a teacher or pack precedent; see DESIGN.md.
type SchemaValidator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator builds an empty SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles and caches agentID's input schema, replacing any
// earlier one. Each registration uses its own Compiler instance, since the
// library compiles one resource URL at a time and schemas across agents
// share no $refs.
func (v *SchemaValidator) Register(agentID string, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("schema: marshal input schema for %s: %w", agentID, err)
	}

	url := "mem://" + agentID
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("schema: add resource for %s: %w", agentID, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema: compile input schema for %s: %w", agentID, err)
	}

	v.mu.Lock()
	v.compiled[agentID] = compiled
	v.mu.Unlock()
	return nil
}

// Unregister drops agentID's cached schema, so its input is no longer
// validated.
func (v *SchemaValidator) Unregister(agentID string) {
	v.mu.Lock()
	delete(v.compiled, agentID)
	v.mu.Unlock()
}

// Validate checks input against agentID's registered schema. An agent
// with no registered schema accepts any input.
func (v *SchemaValidator) Validate(agentID string, input any) error {
	v.mu.Lock()
	schema, ok := v.compiled[agentID]
	v.mu.Unlock()
	if !ok {
		return nil
	}
	return schema.Validate(input)
}
