// Package policy implements the attribute-based access control (ABAC)
// engine: priority-ordered policy evaluation with deny-wins resolution,
// time/IP gating, and a role-assignment permission lookup layered on
// top.
//
// Grounded on the teacher's queue/worker condition-guard style
// (pkg/queue/types.go's sentinel errors and small validation helpers)
// generalized into a full condition-operator evaluator; there is no
// single teacher file that does ABAC, so the evaluator itself is new
// code written in the teacher's plain-struct, no-reflection-magic
// idiom.
package policy

import "time"

// Effect is the outcome a matching policy applies.
type Effect string

// Supported effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// MatchMode controls how a condition set combines: all conditions must
// hold (AND) or any one suffices (OR).
type MatchMode string

// Supported match modes.
const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Operator is a condition comparison operator.
type Operator string

// Supported condition operators (spec.md §4.6).
const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpBetween      Operator = "between"
	OpMatchesRegex Operator = "matches_regex"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpIsNull       Operator = "is_null"
	OpIsNotNull    Operator = "is_not_null"
)

// Condition tests one dot-notation attribute path against a value
// using Operator.
type Condition struct {
	Attribute string
	Operator  Operator
	// Value holds the comparison operand for every operator except
	// Between, which instead uses Low/High.
	Value     any
	Low, High any
}

// ConditionSet is a group of Conditions combined by Mode.
type ConditionSet struct {
	Conditions []Condition
	Mode       MatchMode
}

// TimeWindow restricts a policy to a validity period, allowed weekdays,
// and an hour-of-day window that may wrap past midnight.
type TimeWindow struct {
	ValidFrom, ValidUntil *time.Time
	AllowedWeekdays       []time.Weekday // nil/empty means all days allowed
	HourStart, HourEnd    int            // [0,24); HourStart > HourEnd means an overnight range
	Timezone              *time.Location
}

// IPRestriction allow/block lists expressed as CIDR blocks.
type IPRestriction struct {
	Allow []string
	Block []string
}

// Actions names what a policy permits/forbids.
type Actions struct {
	Allowed []string // "*" matches any action
	Denied  []string
}

// Policy is one ABAC rule.
type Policy struct {
	ID       string
	Name     string
	TenantID string // empty ⇒ global
	Priority int    // lower number = higher precedence
	Effect   Effect
	Enabled  bool

	Subject     ConditionSet
	Resource    ConditionSet
	Environment *ConditionSet // optional

	Actions Actions

	Time *TimeWindow
	IP   *IPRestriction
}

// Request is one access-evaluation request.
type Request struct {
	TenantID string
	Subject  map[string]any
	Resource map[string]any
	Env      map[string]any
	Action   string
	IP       string
	Now      time.Time // evaluation instant; zero value means time.Now()
}

// Decision is the result of Evaluate.
type Decision struct {
	Allowed         bool
	MatchedPolicyID string
	Reason          string
	ElapsedNanos    int64
}
