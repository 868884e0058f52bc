package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, merges it over the built-in
// defaults (user values override, unset fields keep their default),
// and returns a ready-to-use Config. A missing file is not an error —
// it yields plain defaults, the same "works with zero operator effort"
// posture as the teacher's config loader.
func Load(path string) (*Config, error) {
	cfg := &Config{
		TenantQuotas: map[string]TenantQuotaConfig{},
		Retention:    DefaultRetentionConfig(),
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if loaded.TenantQuotas != nil {
		cfg.TenantQuotas = loaded.TenantQuotas
	}
	if loaded.Retention != nil {
		if err := mergo.Merge(cfg.Retention, loaded.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	return cfg, nil
}
