// Package config loads the marketplace's operator-tunable settings —
// per-tenant quotas and the data-retention sweep — from a YAML file,
// the way the teacher's pkg/config loads tarsy.yaml: defaults first,
// then merged with whatever the operator supplies.
package config

import "time"

// TenantQuotaConfig is the YAML shape of one tenant's fairqueue limits
// (spec.md §4.2's three per-tenant quotas).
type TenantQuotaConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxPending    int           `yaml:"max_pending"`
	MaxPerWindow  int           `yaml:"max_per_window"`
	Window        time.Duration `yaml:"window"`
}

// RetentionConfig controls how long terminal jobs and provenance
// records survive before the background sweep deletes them. Grounded
// on the teacher's pkg/config/retention.go.
type RetentionConfig struct {
	JobRetention        time.Duration `yaml:"job_retention"`
	ProvenanceRetention time.Duration `yaml:"provenance_retention"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig mirrors the teacher's sane-defaults idiom:
// usable without an operator ever touching it.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		JobRetention:        30 * 24 * time.Hour,
		ProvenanceRetention: 90 * 24 * time.Hour,
		SweepInterval:       12 * time.Hour,
	}
}

// Config is the top-level marketplace.yaml shape.
type Config struct {
	TenantQuotas map[string]TenantQuotaConfig `yaml:"tenant_quotas"`
	Retention    *RetentionConfig             `yaml:"retention"`
}
