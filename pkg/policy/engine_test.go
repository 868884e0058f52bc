package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_DefaultDeny(t *testing.T) {
	e := NewEngine(nil)
	d := e.Evaluate(context.Background(), Request{TenantID: "t1", Action: "execute"})
	assert.False(t, d.Allowed)
	assert.Empty(t, d.MatchedPolicyID)
}

func TestEvaluate_AllowMatch(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{
			ID: "p-allow", TenantID: "t1", Priority: 10, Effect: EffectAllow, Enabled: true,
			Actions: Actions{Allowed: []string{"execute"}},
		},
	})
	d := e.Evaluate(context.Background(), Request{TenantID: "t1", Action: "execute"})
	assert.True(t, d.Allowed)
	assert.Equal(t, "p-allow", d.MatchedPolicyID)
}

func TestEvaluate_DenyWinsAtLowerPriority(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-deny", Priority: 1, Effect: EffectDeny, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
		{ID: "p-allow", Priority: 10, Effect: EffectAllow, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
	})
	d := e.Evaluate(context.Background(), Request{Action: "execute"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "p-deny", d.MatchedPolicyID)
}

func TestEvaluate_ScanHaltsAtFirstMatch(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-allow-first", Priority: 1, Effect: EffectAllow, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
		{ID: "p-deny-second", Priority: 2, Effect: EffectDeny, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
	})
	d := e.Evaluate(context.Background(), Request{Action: "execute"})
	assert.True(t, d.Allowed)
	assert.Equal(t, "p-allow-first", d.MatchedPolicyID)
}

func TestEvaluate_DisabledPolicySkipped(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-disabled", Priority: 1, Effect: EffectAllow, Enabled: false, Actions: Actions{Allowed: []string{"execute"}}},
	})
	d := e.Evaluate(context.Background(), Request{Action: "execute"})
	assert.False(t, d.Allowed)
}

func TestEvaluate_TenantScoping(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-tenant-b", TenantID: "tenant-b", Priority: 1, Effect: EffectAllow, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
	})
	d := e.Evaluate(context.Background(), Request{TenantID: "tenant-a", Action: "execute"})
	assert.False(t, d.Allowed, "policy scoped to another tenant must not apply")
}

func TestEvaluate_SubjectConditionsMatchAll(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{
			ID: "p-role", Priority: 1, Effect: EffectAllow, Enabled: true,
			Actions: Actions{Allowed: []string{"execute"}},
			Subject: ConditionSet{
				Mode: MatchAll,
				Conditions: []Condition{
					{Attribute: "role", Operator: OpEquals, Value: "admin"},
					{Attribute: "active", Operator: OpEquals, Value: true},
				},
			},
		},
	})
	allow := e.Evaluate(context.Background(), Request{
		Action:  "execute",
		Subject: map[string]any{"role": "admin", "active": true},
	})
	assert.True(t, allow.Allowed)

	deny := e.Evaluate(context.Background(), Request{
		Action:  "execute",
		Subject: map[string]any{"role": "admin", "active": false},
	})
	assert.False(t, deny.Allowed)
}

func TestEvaluate_ActionDenyList(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-wild", Priority: 1, Effect: EffectAllow, Enabled: true,
			Actions: Actions{Allowed: []string{"*"}, Denied: []string{"delete"}}},
	})
	allowed := e.Evaluate(context.Background(), Request{Action: "read"})
	assert.True(t, allowed.Allowed)

	denied := e.Evaluate(context.Background(), Request{Action: "delete"})
	assert.False(t, denied.Allowed, "explicit deny-action list excludes even a wildcard allow")
}

func TestEvaluate_TimeWindowOvernight(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-night", Priority: 1, Effect: EffectAllow, Enabled: true,
			Actions: Actions{Allowed: []string{"execute"}},
			Time:    &TimeWindow{HourStart: 22, HourEnd: 6}},
	})

	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	night := e.Evaluate(context.Background(), Request{Action: "execute", Now: base.Add(23 * time.Hour)})
	assert.True(t, night.Allowed)

	midday := e.Evaluate(context.Background(), Request{Action: "execute", Now: base.Add(12 * time.Hour)})
	assert.False(t, midday.Allowed)
}

func TestEvaluate_IPBlockListWins(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicies([]*Policy{
		{ID: "p-ip", Priority: 1, Effect: EffectAllow, Enabled: true,
			Actions: Actions{Allowed: []string{"execute"}},
			IP:      &IPRestriction{Allow: []string{"10.0.0.0/8"}, Block: []string{"10.0.5.0/24"}}},
	})

	allowed := e.Evaluate(context.Background(), Request{Action: "execute", IP: "10.0.1.5"})
	assert.True(t, allowed.Allowed)

	blocked := e.Evaluate(context.Background(), Request{Action: "execute", IP: "10.0.5.5"})
	assert.False(t, blocked.Allowed, "block-list entry inside the allow range must still deny")
}

func TestEvaluate_AuditSinkRecordsEveryCall(t *testing.T) {
	sink := NewMemoryAuditSink()
	e := NewEngine(sink)
	e.SetPolicies([]*Policy{
		{ID: "p1", Priority: 1, Effect: EffectAllow, Enabled: true, Actions: Actions{Allowed: []string{"execute"}}},
	})
	e.Evaluate(context.Background(), Request{Action: "execute"})
	e.Evaluate(context.Background(), Request{Action: "read"})

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"p1"}, entries[0].MatchedPolicyIDs)
	assert.Empty(t, entries[1].MatchedPolicyIDs)
}

func TestHasPermission_WildcardAndExpiry(t *testing.T) {
	e := NewEngine(nil)
	e.SetRole(Role{Name: "admin", Permissions: []string{"*"}})
	e.SetRole(Role{Name: "viewer", Permissions: []string{"read"}})

	now := time.Now()
	past := now.Add(-time.Hour)

	e.AssignRole(RoleAssignment{TenantID: "t1", SubjectID: "u1", Role: "admin"})
	e.AssignRole(RoleAssignment{TenantID: "t1", SubjectID: "u2", Role: "viewer"})
	e.AssignRole(RoleAssignment{TenantID: "t1", SubjectID: "u3", Role: "admin", ExpiresAt: &past})

	assert.True(t, e.HasPermission("t1", "u1", "delete", now))
	assert.True(t, e.HasPermission("t1", "u2", "read", now))
	assert.False(t, e.HasPermission("t1", "u2", "delete", now))
	assert.False(t, e.HasPermission("t1", "u3", "delete", now), "expired assignment must not grant permission")
}

func TestConditionOperators(t *testing.T) {
	attrs := map[string]any{
		"tier":  "gold",
		"score": 42.0,
		"tags":  []any{"a", "b"},
	}

	assert.True(t, evalCondition(Condition{Attribute: "tier", Operator: OpEquals, Value: "gold"}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "tier", Operator: OpNotEquals, Value: "silver"}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "tags", Operator: OpContains, Value: "a"}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "score", Operator: OpGreaterThan, Value: 10.0}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "score", Operator: OpBetween, Low: 0.0, High: 100.0}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "missing", Operator: OpIsNull}, attrs))
	assert.True(t, evalCondition(Condition{Attribute: "tier", Operator: OpIsNotNull}, attrs))
	assert.False(t, evalCondition(Condition{Attribute: "missing", Operator: OpEquals, Value: "x"}, attrs), "undefined attribute compares false except is_null")
}
