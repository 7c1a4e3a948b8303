package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionProfile is a named YAML overlay for transaction, batch, and API
// behavior, typically one per deployment environment.
type ExecutionProfile struct {
	Name        string            `yaml:"name" json:"name"`
	Code        string            `yaml:"code" json:"code"`
	Transaction TxnConfig         `yaml:"transaction" json:"transaction"`
	Batch       BatchConfig       `yaml:"batch" json:"batch"`
	API         APIConfig         `yaml:"api" json:"api"`
	Shortcuts   map[string]string `yaml:"shortcuts,omitempty" json:"shortcuts,omitempty"`
}

// TxnConfig holds per-profile transaction defaults.
type TxnConfig struct {
	MaxRetries   int  `yaml:"max_retries" json:"max_retries"`
	RetryDelayMs int  `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	RetryOnError bool `yaml:"retry_on_error" json:"retry_on_error"`
}

// BatchConfig paces batch fallback processing.
type BatchConfig struct {
	RateLimit int `yaml:"rate_limit" json:"rate_limit"` // items per second, 0 = unlimited
	Burst     int `yaml:"burst" json:"burst"`
}

// APIConfig holds per-profile API caller settings.
type APIConfig struct {
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"`
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// LoadProfile loads one profile YAML by code from the profiles directory.
// It looks for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*ExecutionProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile ExecutionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml from the profiles directory,
// keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*ExecutionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*ExecutionProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile ExecutionProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

// Apply overlays the profile's non-zero values onto cfg.
func (p *ExecutionProfile) Apply(cfg *Config) {
	if p.Transaction.MaxRetries > 0 {
		cfg.MaxRetries = p.Transaction.MaxRetries
	}
	if p.Transaction.RetryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(p.Transaction.RetryDelayMs) * time.Millisecond
	}
	if p.API.TimeoutMs > 0 {
		cfg.APITimeout = time.Duration(p.API.TimeoutMs) * time.Millisecond
	}
}
