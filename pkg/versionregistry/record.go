// Package versionregistry tracks the lifecycle and compatibility of
// agent and tool versions. Generalized from the teacher's single
// build-version string (pkg/version) into a full per-artifact lifecycle
// table: active, deprecated, sunset.
package versionregistry

import (
	"time"

	"golang.org/x/mod/semver"
)

// Kind distinguishes an agent version from a tool version.
type Kind string

// Supported kinds.
const (
	KindAgent Kind = "agent"
	KindTool  Kind = "tool"
)

// Status is a VersionRecord's position in the three-state lifecycle.
type Status string

// Lifecycle states.
const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusSunset     Status = "sunset"
)

// Record is one tracked agent or tool version.
type Record struct {
	ID                string
	Kind              Kind
	SemVer            string
	Status            Status
	DeprecatedAt      *time.Time
	Reason            string
	ReplacementID     string
	SunsetDate        *time.Time
	MinCompatibleVersion string
}

// normalizeSemver ensures a version string carries the leading "v" that
// golang.org/x/mod/semver requires, without forcing callers to store it
// that way.
func normalizeSemver(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
