package policy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for policy-engine operations.
var (
	ErrPolicyNotFound = errors.New("policy not found")
	ErrRoleNotFound   = errors.New("role not found")
)

// AuditEntry records one evaluation for the audit sink.
type AuditEntry struct {
	Request         Request
	Decision        Decision
	MatchedPolicyIDs []string
	At              time.Time
}

// AuditSink receives one entry per Evaluate call. Implementations must
// not block the evaluating goroutine for long; the default in-memory
// sink simply appends under a mutex.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MemoryAuditSink is an in-memory AuditSink used by tests and small
// deployments.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditSink creates an empty MemoryAuditSink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Record implements AuditSink.
func (s *MemoryAuditSink) Record(_ context.Context, entry AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Entries returns a snapshot copy of all recorded audit entries.
func (s *MemoryAuditSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Role maps a role name to the set of permissions it grants.
// Wildcard "*" grants every permission.
type Role struct {
	Name        string
	Permissions []string
}

// RoleAssignment binds a subject within a tenant to a role, optionally
// expiring.
type RoleAssignment struct {
	TenantID  string
	SubjectID string
	Role      string
	ExpiresAt *time.Time
}

// Engine evaluates access requests against a priority-ordered policy
// set and exposes a role-assignment permission lookup. Safe for
// concurrent use; the policy set is refreshed wholesale under a
// read/write lock the way the teacher's process-wide caches are
// refreshed (see DESIGN.md's policy-cache note).
type Engine struct {
	sink AuditSink

	mu       sync.RWMutex
	policies []*Policy

	rolesMu     sync.RWMutex
	roles       map[string]Role
	assignments map[string][]RoleAssignment // key: tenantID+"/"+subjectID
}

// NewEngine creates an Engine backed by sink. A nil sink is replaced
// by a MemoryAuditSink.
func NewEngine(sink AuditSink) *Engine {
	if sink == nil {
		sink = NewMemoryAuditSink()
	}
	return &Engine{
		sink:        sink,
		roles:       make(map[string]Role),
		assignments: make(map[string][]RoleAssignment),
	}
}

// SetPolicies replaces the engine's entire policy set, pre-sorted by
// ascending priority so Evaluate never has to sort on the hot path.
func (e *Engine) SetPolicies(policies []*Policy) {
	sorted := make([]*Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	e.mu.Lock()
	e.policies = sorted
	e.mu.Unlock()
}

// Evaluate runs the decision procedure from spec.md §4.6: collect
// applicable policies, scan in ascending priority order, halt
// immediately on the first match (deny or allow), default-deny if
// nothing matches, and record the outcome in the audit sink.
func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	start := time.Now()
	if req.Now.IsZero() {
		req.Now = start
	}

	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	decision := Decision{Allowed: false, Reason: "no matching policy; default deny"}
	var matchedIDs []string

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if p.TenantID != "" && p.TenantID != req.TenantID {
			continue
		}
		if !matches(p, req) {
			continue
		}
		matchedIDs = append(matchedIDs, p.ID)
		decision = Decision{
			Allowed:         p.Effect == EffectAllow,
			MatchedPolicyID: p.ID,
			Reason:          string(p.Effect) + " by policy " + p.ID,
		}
		break
	}

	decision.ElapsedNanos = time.Since(start).Nanoseconds()

	e.sink.Record(ctx, AuditEntry{
		Request:          req,
		Decision:         decision,
		MatchedPolicyIDs: matchedIDs,
		At:               req.Now,
	})

	return decision
}

func matches(p *Policy, req Request) bool {
	if !timeAllows(p.Time, req.Now) {
		return false
	}
	if !ipAllows(p.IP, req.IP) {
		return false
	}
	if !evalConditionSet(p.Subject, req.Subject) {
		return false
	}
	if !evalConditionSet(p.Resource, req.Resource) {
		return false
	}
	if p.Environment != nil && !evalConditionSet(*p.Environment, req.Env) {
		return false
	}
	if !actionAllowed(p.Actions, req.Action) {
		return false
	}
	return true
}

// SetRole defines or replaces a role's permission set.
func (e *Engine) SetRole(role Role) {
	e.rolesMu.Lock()
	e.roles[role.Name] = role
	e.rolesMu.Unlock()
}

// AssignRole grants assignment's role to its subject within its
// tenant.
func (e *Engine) AssignRole(assignment RoleAssignment) {
	key := assignment.TenantID + "/" + assignment.SubjectID
	e.rolesMu.Lock()
	e.assignments[key] = append(e.assignments[key], assignment)
	e.rolesMu.Unlock()
}

// HasPermission reports whether subject holds permission within
// tenant, via any currently unexpired role assignment granting it or
// the wildcard "*".
func (e *Engine) HasPermission(tenantID, subjectID, permission string, now time.Time) bool {
	key := tenantID + "/" + subjectID

	e.rolesMu.RLock()
	defer e.rolesMu.RUnlock()

	for _, a := range e.assignments[key] {
		if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
			continue
		}
		role, ok := e.roles[a.Role]
		if !ok {
			continue
		}
		for _, perm := range role.Permissions {
			if perm == "*" || perm == permission {
				return true
			}
		}
	}
	return false
}
