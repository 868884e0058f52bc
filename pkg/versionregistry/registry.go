package versionregistry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/mod/semver"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

// Config holds registry-wide defaults.
type Config struct {
	// SunsetPeriod is how far past deprecation a record's sunset date
	// defaults to when the caller does not supply one explicitly.
	SunsetPeriod time.Duration
	// SweepInterval schedules the periodic processSunsets() cron job.
	// Zero disables the background sweep; Registry.Sunset and
	// Registry.ProcessSunsets remain callable directly either way.
	SweepInterval time.Duration
}

// DefaultConfig mirrors the teacher's config-defaults idiom
// (pkg/config/retention.go): sane values usable without an operator
// ever touching them.
func DefaultConfig() Config {
	return Config{
		SunsetPeriod:  30 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// CompatibilityIssue describes one reason a requested version is
// incompatible with a registered record.
type CompatibilityIssue struct {
	Field      string
	Message    string
	Suggestion string
}

// CompatibilityResult is returned by CheckCompatibility.
type CompatibilityResult struct {
	Compatible bool
	Issues     []CompatibilityIssue
}

// Registry tracks the lifecycle of every registered agent/tool version.
// Safe for concurrent use.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*Record

	sweeper *cron.Cron
}

// New creates a Registry. Call Start to begin the background sunset
// sweep if cfg.SweepInterval is positive.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		records: make(map[string]*Record),
	}
}

// Register adds or replaces a record in the active state.
func (r *Registry) Register(rec *Record) {
	rec.Status = StatusActive
	rec.DeprecatedAt = nil
	rec.SunsetDate = nil
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()
}

// Deprecate transitions a record to deprecated, stamping DeprecatedAt
// and defaulting SunsetDate to now + the registry's configured sunset
// period when the caller does not supply one.
func (r *Registry) Deprecate(id, reason, replacementID string, sunsetDate *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return apperror.AgentNotFound(id)
	}

	now := time.Now()
	rec.Status = StatusDeprecated
	rec.DeprecatedAt = &now
	rec.Reason = reason
	rec.ReplacementID = replacementID
	if sunsetDate != nil {
		rec.SunsetDate = sunsetDate
	} else {
		d := now.Add(r.cfg.SunsetPeriod)
		rec.SunsetDate = &d
	}
	return nil
}

// Sunset force-transitions a single record to sunset regardless of its
// sunset date.
func (r *Registry) Sunset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperror.AgentNotFound(id)
	}
	rec.Status = StatusSunset
	return nil
}

// ProcessSunsets sweeps every deprecated record whose sunset date has
// passed and transitions it to sunset. Returns the ids transitioned.
func (r *Registry) ProcessSunsets() []string {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var transitioned []string
	for id, rec := range r.records {
		if rec.Status == StatusDeprecated && rec.SunsetDate != nil && now.After(*rec.SunsetDate) {
			rec.Status = StatusSunset
			transitioned = append(transitioned, id)
		}
	}
	return transitioned
}

// Get returns a copy of the record for id, if present.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// DeprecationWarning is returned by CheckBeforeUse when a record is
// deprecated but not yet sunset.
type DeprecationWarning struct {
	ReplacementID string
	RemainingDays int
}

// CheckBeforeUse enforces the sunset boundary ahead of dispatch. A
// record that is sunset, or deprecated past its own sunset date,
// fails with apperror.AgentSunset. A merely-deprecated record returns
// a non-fatal warning so callers can surface it without blocking.
func (r *Registry) CheckBeforeUse(id string) (*DeprecationWarning, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.AgentNotFound(id)
	}

	now := time.Now()
	sunsetPassed := rec.SunsetDate != nil && now.After(*rec.SunsetDate)

	if rec.Status == StatusSunset || (rec.Status == StatusDeprecated && sunsetPassed) {
		return nil, apperror.AgentSunset(id, rec.ReplacementID)
	}

	if rec.Status == StatusDeprecated {
		remaining := 0
		if rec.SunsetDate != nil {
			remaining = int(rec.SunsetDate.Sub(now).Hours() / 24)
			if remaining < 0 {
				remaining = 0
			}
		}
		return &DeprecationWarning{ReplacementID: rec.ReplacementID, RemainingDays: remaining}, nil
	}

	return nil, nil
}

// CheckCompatibility validates a requested version against a
// registered record: the major version must match, and when the
// record declares a minimum compatible version the request must be
// greater than or equal to it.
func (r *Registry) CheckCompatibility(id, requestedVersion string) (CompatibilityResult, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return CompatibilityResult{}, apperror.AgentNotFound(id)
	}

	requested := normalizeSemver(requestedVersion)
	registered := normalizeSemver(rec.SemVer)

	if !semver.IsValid(requested) {
		return CompatibilityResult{
			Compatible: false,
			Issues: []CompatibilityIssue{{
				Field:   "version",
				Message: fmt.Sprintf("%q is not a valid semantic version", requestedVersion),
			}},
		}, nil
	}

	var issues []CompatibilityIssue

	if semver.Major(requested) != semver.Major(registered) {
		issues = append(issues, CompatibilityIssue{
			Field:      "version",
			Message:    fmt.Sprintf("major version %s is incompatible with registered %s", semver.Major(requested), semver.Major(registered)),
			Suggestion: fmt.Sprintf("use a %s.x release", semver.Major(registered)),
		})
	}

	if rec.MinCompatibleVersion != "" {
		min := normalizeSemver(rec.MinCompatibleVersion)
		if semver.IsValid(min) && semver.Compare(requested, min) < 0 {
			issues = append(issues, CompatibilityIssue{
				Field:      "version",
				Message:    fmt.Sprintf("%s is older than the minimum compatible version %s", strings.TrimPrefix(requested, "v"), strings.TrimPrefix(min, "v")),
				Suggestion: fmt.Sprintf("upgrade to at least %s", strings.TrimPrefix(min, "v")),
			})
		}
	}

	return CompatibilityResult{Compatible: len(issues) == 0, Issues: issues}, nil
}

// Start launches the background sunset sweep if SweepInterval > 0.
// Calling Start on an already-running registry is a no-op.
func (r *Registry) Start() {
	if r.cfg.SweepInterval <= 0 || r.sweeper != nil {
		return
	}
	r.sweeper = cron.New()
	spec := fmt.Sprintf("@every %s", r.cfg.SweepInterval)
	_, err := r.sweeper.AddFunc(spec, func() {
		if ids := r.ProcessSunsets(); len(ids) > 0 {
			r.logger.Info("versionregistry: sunset sweep transitioned records", "ids", ids)
		}
	})
	if err != nil {
		r.logger.Error("versionregistry: failed to schedule sunset sweep", "error", err)
		r.sweeper = nil
		return
	}
	r.sweeper.Start()
}

// Stop gracefully shuts down the background sweep. After Stop
// returns, Start may be called again.
func (r *Registry) Stop() {
	if r.sweeper == nil {
		return
	}
	ctx := r.sweeper.Stop()
	<-ctx.Done()
	r.sweeper = nil
}
