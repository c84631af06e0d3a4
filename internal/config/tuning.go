// Package config loads tracker tuning from JSON files. The schema uses
// pointer-typed optional fields so partial configs merge over the built-in
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/mht.report/internal/mht"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root tracker configuration. Fields omitted from the
// JSON retain their default values, so partial configs are safe.
type TuningConfig struct {
	// Hypothesis management
	KMax    *int     `json:"k_max,omitempty"`
	HPLimit *float64 `json:"hp_limit,omitempty"`

	// Match gating
	NLLLimit *float64 `json:"nll_limit,omitempty"`

	// Default target model
	ProcessNoise     *float64 `json:"process_noise,omitempty"`
	VelocityVariance *float64 `json:"velocity_variance,omitempty"`

	// Scheduling
	Workers *int `json:"workers,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under the size cap.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", cleanPath, err)
	}
	return &cfg, nil
}

// Validate rejects out-of-range values.
func (c *TuningConfig) Validate() error {
	if c.KMax != nil && *c.KMax < 1 {
		return fmt.Errorf("k_max must be at least 1, got %d", *c.KMax)
	}
	if c.HPLimit != nil && *c.HPLimit <= 0 {
		return fmt.Errorf("hp_limit must be positive, got %g", *c.HPLimit)
	}
	if c.NLLLimit != nil && *c.NLLLimit <= 0 {
		return fmt.Errorf("nll_limit must be positive, got %g", *c.NLLLimit)
	}
	if c.ProcessNoise != nil && *c.ProcessNoise <= 0 {
		return fmt.Errorf("process_noise must be positive, got %g", *c.ProcessNoise)
	}
	if c.VelocityVariance != nil && *c.VelocityVariance <= 0 {
		return fmt.Errorf("velocity_variance must be positive, got %g", *c.VelocityVariance)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// Params merges the config over the engine defaults. A custom target model
// is built when either model field is present.
func (c *TuningConfig) Params() mht.Params {
	p := mht.DefaultParams()
	if c == nil {
		return p
	}
	if c.KMax != nil {
		p.KMax = *c.KMax
	}
	if c.HPLimit != nil {
		p.HPLimit = *c.HPLimit
	}
	if c.NLLLimit != nil {
		p.NLLLimit = *c.NLLLimit
	}
	if c.ProcessNoise != nil || c.VelocityVariance != nil {
		q, pv := 0.1, 0.1
		if c.ProcessNoise != nil {
			q = *c.ProcessNoise
		}
		if c.VelocityVariance != nil {
			pv = *c.VelocityVariance
		}
		p.InitTargetTracker = mht.DefaultTargetInit(q, pv)
	}
	if c.Workers != nil {
		p.Workers = *c.Workers
	}
	return p
}
