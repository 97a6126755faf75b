package config

import (
	"errors"
	"fmt"
	"math"
)

var validStrategies = map[string]struct{}{
	"ai":          {},
	"skill_match": {},
	"workload":    {},
	"random":      {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAssignment(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateReconciliation(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAssignment() error {
	if _, ok := validStrategies[c.Assignment.DefaultStrategy]; !ok {
		return fmt.Errorf("assignment.default_strategy: unsupported value %q (manual cannot be a default)", c.Assignment.DefaultStrategy)
	}
	if c.Assignment.DefaultMaxRetries < 0 {
		return errors.New("assignment.default_max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	for name, weight := range map[string]float64{
		"scoring.skill_weight":        s.SkillWeight,
		"scoring.workload_weight":     s.WorkloadWeight,
		"scoring.availability_weight": s.AvailabilityWeight,
	} {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if total := s.SkillWeight + s.WorkloadWeight + s.AvailabilityWeight; math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1 (got %.3f)", total)
	}
	if s.VeteranDiscount <= 0 || s.VeteranDiscount > 1 {
		return errors.New("scoring.veteran_discount must be in (0, 1]")
	}
	if s.VeteranThreshold < 0 {
		return errors.New("scoring.veteran_threshold must be >= 0")
	}
	return nil
}

func (c *Config) validateReconciliation() error {
	if !c.Reconciliation.Enabled {
		return nil
	}
	if c.Reconciliation.IntervalSeconds <= 0 {
		return errors.New("reconciliation.interval_seconds must be positive")
	}
	if c.Reconciliation.StaleTaskMinutes <= 0 {
		return errors.New("reconciliation.stale_task_minutes must be positive")
	}
	return nil
}
