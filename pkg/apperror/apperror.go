// Package apperror defines the error taxonomy shared across the marketplace
// runtime: validation, authorization, lifecycle, quota, and upstream errors
// all carry a Kind so HTTP handlers and streaming writers can map them to a
// wire representation without re-deriving the classification at each call
// site.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for response-mapping and retry purposes.
type Kind string

// Error kinds, mirroring the taxonomy every component surfaces.
const (
	KindInvalidInput       Kind = "invalid_input"
	KindPermissionDenied   Kind = "permission_denied"
	KindAgentNotFound      Kind = "agent_not_found"
	KindJobNotFound        Kind = "job_not_found"
	KindAgentSunset        Kind = "agent_sunset"
	KindVersionIncompat    Kind = "version_incompatible"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindTimeout            Kind = "timeout"
	KindUpstreamRetryable  Kind = "upstream_retryable"
	KindUpstreamRejected   Kind = "upstream_rejected"
	KindMaxRetriesExceeded Kind = "max_retries_exceeded"
	KindAgentUnavailable   Kind = "agent_unavailable"
	KindInternal           Kind = "internal_error"
)

// Error is the concrete error type returned by every component in this
// module. Retryable is set for kinds the caller may safely retry after a
// delay (Timeout, UpstreamRetryable, AgentUnavailable).
type Error struct {
	Kind      Kind
	Message   string
	Field     string // set for KindInvalidInput
	AgentID   string // set for AgentNotFound/AgentSunset/AgentUnavailable
	Replace   string // replacement agent id, set for AgentSunset
	Limit     string // triggered quota name, set for QuotaExceeded
	Status    int    // upstream HTTP status, set for UpstreamRejected
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, retryable bool, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: retryable}
}

// InvalidInput builds a validation error naming the offending field.
func InvalidInput(field, msg string) *Error {
	e := newErr(KindInvalidInput, false, msg)
	e.Field = field
	return e
}

// PermissionDenied builds an authorization error.
func PermissionDenied(msg string) *Error {
	return newErr(KindPermissionDenied, false, msg)
}

// AgentNotFound builds a not-found error for the given agent id.
func AgentNotFound(agentID string) *Error {
	e := newErr(KindAgentNotFound, false, "agent not found")
	e.AgentID = agentID
	return e
}

// JobNotFound builds a not-found error for the given job id.
func JobNotFound(jobID string) *Error {
	e := newErr(KindJobNotFound, false, "job not found: "+jobID)
	return e
}

// AgentSunset builds a lifecycle error for a sunset agent, optionally
// carrying a replacement id.
func AgentSunset(agentID, replacement string) *Error {
	e := newErr(KindAgentSunset, false, "agent is sunset: "+agentID)
	e.AgentID = agentID
	e.Replace = replacement
	return e
}

// VersionIncompatible builds a lifecycle error for a version mismatch.
func VersionIncompatible(msg string) *Error {
	return newErr(KindVersionIncompat, false, msg)
}

// QuotaExceeded builds a quota error naming the triggered limit.
func QuotaExceeded(limit string) *Error {
	e := newErr(KindQuotaExceeded, false, "quota exceeded: "+limit)
	e.Limit = limit
	return e
}

// Timeout builds a retryable upstream timeout error.
func Timeout(msg string) *Error {
	return newErr(KindTimeout, true, msg)
}

// UpstreamRetryable builds a retryable upstream error.
func UpstreamRetryable(msg string) *Error {
	return newErr(KindUpstreamRetryable, true, msg)
}

// UpstreamRejected builds a non-retryable upstream rejection carrying the
// upstream HTTP status code.
func UpstreamRejected(status int, msg string) *Error {
	e := newErr(KindUpstreamRejected, false, msg)
	e.Status = status
	return e
}

// MaxRetriesExceeded builds a non-retryable error for an exhausted retry
// budget.
func MaxRetriesExceeded(msg string) *Error {
	return newErr(KindMaxRetriesExceeded, false, msg)
}

// AgentUnavailable builds a retryable circuit/availability error.
func AgentUnavailable(agentID string) *Error {
	e := newErr(KindAgentUnavailable, true, "agent unavailable: "+agentID)
	e.AgentID = agentID
	return e
}

// Internal wraps an unexpected error with an opaque code for the caller.
func Internal(cause error) *Error {
	e := newErr(KindInternal, false, "internal error")
	e.cause = cause
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
