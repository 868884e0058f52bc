package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_NoRegisteredSchemaAcceptsAnyInput(t *testing.T) {
	v := NewSchemaValidator()
	err := v.Validate("agent-1", map[string]any{"anything": true})
	assert.NoError(t, err)
}

func TestSchemaValidator_RegisterAndValidate(t *testing.T) {
	v := NewSchemaValidator()
	schema := map[string]any{
		"type":                 "object",
		"required":             []any{"task"},
		"additionalProperties": false,
		"properties": map[string]any{
			"task": map[string]any{"type": "string"},
		},
	}
	require.NoError(t, v.Register("agent-1", schema))

	assert.NoError(t, v.Validate("agent-1", map[string]any{"task": "summarize"}))
	assert.Error(t, v.Validate("agent-1", map[string]any{"wrong_field": "x"}))
	assert.Error(t, v.Validate("agent-1", map[string]any{}))
}

func TestSchemaValidator_UnregisterRemovesValidation(t *testing.T) {
	v := NewSchemaValidator()
	schema := map[string]any{
		"type":     "object",
		"required": []any{"task"},
	}
	require.NoError(t, v.Register("agent-1", schema))
	require.Error(t, v.Validate("agent-1", map[string]any{}))

	v.Unregister("agent-1")
	assert.NoError(t, v.Validate("agent-1", map[string]any{}))
}
