package meter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CN-TU/go-meter/flow"
	"github.com/CN-TU/go-meter/plugin"
)

// fileConfig mirrors the run-level settings of Config in yaml form.
// Durations are strings in time.ParseDuration syntax. Absent fields keep
// the value already present in the target Config.
type fileConfig struct {
	IdleTimeout         string `yaml:"idle_timeout"`
	ActiveTimeout       string `yaml:"active_timeout"`
	AccountingMode      string `yaml:"accounting_mode"`
	SPLTCapacity        *int   `yaml:"splt_capacity"`
	MaxDissections      *int   `yaml:"max_dissections"`
	Workers             *int   `yaml:"workers"`
	InputBuffer         *int   `yaml:"input_buffer"`
	OutputBuffer        *int   `yaml:"output_buffer"`
	HookPolicy          string `yaml:"hook_policy"`
	PerformanceInterval string `yaml:"performance_interval"`
}

// LoadConfig applies the yaml file at path onto cfg. Settings absent from
// the file are left untouched.
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("meter: reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("meter: parsing config %s: %w", path, err)
	}

	if fc.IdleTimeout != "" {
		if cfg.IdleTimeout, err = time.ParseDuration(fc.IdleTimeout); err != nil {
			return fmt.Errorf("meter: idle_timeout: %w", err)
		}
	}
	if fc.ActiveTimeout != "" {
		if cfg.ActiveTimeout, err = time.ParseDuration(fc.ActiveTimeout); err != nil {
			return fmt.Errorf("meter: active_timeout: %w", err)
		}
	}
	if fc.AccountingMode != "" {
		mode, ok := flow.ParseAccountingMode(fc.AccountingMode)
		if !ok {
			return fmt.Errorf("meter: unknown accounting_mode %q", fc.AccountingMode)
		}
		cfg.AccountingMode = mode
	}
	if fc.SPLTCapacity != nil {
		cfg.SPLTCapacity = *fc.SPLTCapacity
	}
	if fc.MaxDissections != nil {
		cfg.MaxDissections = *fc.MaxDissections
	}
	if fc.Workers != nil {
		if *fc.Workers == 0 {
			return fmt.Errorf("meter: workers: explicit zero, need at least 1")
		}
		cfg.Workers = *fc.Workers
	}
	if fc.InputBuffer != nil {
		cfg.InputBuffer = *fc.InputBuffer
	}
	if fc.OutputBuffer != nil {
		cfg.OutputBuffer = *fc.OutputBuffer
	}
	if fc.HookPolicy != "" {
		policy, ok := plugin.ParsePolicy(fc.HookPolicy)
		if !ok {
			return fmt.Errorf("meter: unknown hook_policy %q", fc.HookPolicy)
		}
		cfg.HookPolicy = policy
	}
	if fc.PerformanceInterval != "" {
		if cfg.PerformanceInterval, err = time.ParseDuration(fc.PerformanceInterval); err != nil {
			return fmt.Errorf("meter: performance_interval: %w", err)
		}
	}
	return nil
}
