// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driftwatch

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/driftwatch/services/driftwatch/stats"
)

// MaxServiceIDLength bounds the service identifier at the API boundary.
const MaxServiceIDLength = 64

// Hard sanity limits on metric values. Values above these are treated as
// instrumentation errors, not measurements.
const (
	MaxLatencyMs = 300000.0  // 5 minutes
	MaxPayloadKb = 1048576.0 // 1 GB
)

// Config holds all tunable engine parameters.
//
// # Description
//
// Zero-configuration by design: DefaultConfig() is production-grade and
// every field can be overridden via YAML file or DRIFTWATCH_* environment
// variables. Validate() must pass before the config is used.
type Config struct {
	// MinSamplesForBaseline is the floor for producing a baseline.
	MinSamplesForBaseline int `yaml:"min_samples_for_baseline"`

	// BaselineWindowSize is the sliding window of most-recent samples a
	// baseline is computed over.
	BaselineWindowSize int `yaml:"baseline_window_size"`

	// BaselineRecalcInterval is how many new samples accumulate before
	// the baseline is recomputed.
	BaselineRecalcInterval int `yaml:"baseline_recalc_interval"`

	// DriftZScoreThreshold is the severe anomaly cutoff.
	DriftZScoreThreshold float64 `yaml:"drift_zscore_threshold"`

	// DriftConsecutiveThreshold is the Rule A run length.
	DriftConsecutiveThreshold int `yaml:"drift_consecutive_threshold"`

	// DriftModerateZScoreThreshold is the Rule B cutoff.
	DriftModerateZScoreThreshold float64 `yaml:"drift_moderate_zscore_threshold"`

	// DriftModerateCount is the Rule B trigger count.
	DriftModerateCount int `yaml:"drift_moderate_count"`

	// DriftModerateWindow is the Rule B window size.
	DriftModerateWindow int `yaml:"drift_moderate_window"`

	// RecoveryConsecutiveNormal is the run of normal samples required to
	// leave DRIFT_DETECTED.
	RecoveryConsecutiveNormal int `yaml:"recovery_consecutive_normal"`

	// TimestampToleranceHours bounds client clock skew.
	TimestampToleranceHours int `yaml:"timestamp_tolerance_hours"`

	// IngestQueueMax is the backpressure threshold of the ingest buffer.
	IngestQueueMax int `yaml:"ingest_queue_max"`

	// IngestWorkers is the size of the background consumer pool. Work is
	// sharded by service_id hash, so any value preserves per-service
	// ordering.
	IngestWorkers int `yaml:"ingest_workers"`

	// TelemetryRetentionDays bounds telemetry and z-score history age.
	TelemetryRetentionDays int `yaml:"telemetry_retention_days"`

	// DriftEventsRetentionDays bounds drift event age.
	DriftEventsRetentionDays int `yaml:"drift_events_retention_days"`

	// RetentionInterval is how often the retention janitor runs.
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// DefaultConfig returns the zero-configuration production defaults.
func DefaultConfig() Config {
	return Config{
		MinSamplesForBaseline:        stats.DefaultMinSamplesForBaseline,
		BaselineWindowSize:           1000,
		BaselineRecalcInterval:       50,
		DriftZScoreThreshold:         stats.DefaultZScoreThreshold,
		DriftConsecutiveThreshold:    stats.DefaultConsecutiveThreshold,
		DriftModerateZScoreThreshold: stats.DefaultModerateZScoreThreshold,
		DriftModerateCount:           stats.DefaultModerateCount,
		DriftModerateWindow:          stats.DefaultModerateWindow,
		RecoveryConsecutiveNormal:    stats.DefaultRecoveryConsecutiveNormal,
		TimestampToleranceHours:      1,
		IngestQueueMax:               10000,
		IngestWorkers:                4,
		TelemetryRetentionDays:       7,
		DriftEventsRetentionDays:     30,
		RetentionInterval:            1 * time.Hour,
	}
}

// Validate checks invariants between the configured parameters.
func (c *Config) Validate() error {
	if c.MinSamplesForBaseline < 2 {
		return fmt.Errorf("min_samples_for_baseline must be at least 2, got %d", c.MinSamplesForBaseline)
	}
	if c.BaselineWindowSize < c.MinSamplesForBaseline {
		return fmt.Errorf("baseline_window_size %d is below min_samples_for_baseline %d",
			c.BaselineWindowSize, c.MinSamplesForBaseline)
	}
	if c.BaselineRecalcInterval <= 0 {
		return fmt.Errorf("baseline_recalc_interval must be positive, got %d", c.BaselineRecalcInterval)
	}
	if c.DriftZScoreThreshold <= c.DriftModerateZScoreThreshold {
		return fmt.Errorf("drift_zscore_threshold %.2f must exceed moderate threshold %.2f",
			c.DriftZScoreThreshold, c.DriftModerateZScoreThreshold)
	}
	if c.DriftConsecutiveThreshold <= 0 {
		return fmt.Errorf("drift_consecutive_threshold must be positive, got %d", c.DriftConsecutiveThreshold)
	}
	if c.DriftModerateCount <= 0 || c.DriftModerateWindow < c.DriftModerateCount {
		return fmt.Errorf("drift_moderate_window %d must be at least drift_moderate_count %d (both positive)",
			c.DriftModerateWindow, c.DriftModerateCount)
	}
	if c.RecoveryConsecutiveNormal <= 0 {
		return fmt.Errorf("recovery_consecutive_normal must be positive, got %d", c.RecoveryConsecutiveNormal)
	}
	if c.TimestampToleranceHours <= 0 {
		return fmt.Errorf("timestamp_tolerance_hours must be positive, got %d", c.TimestampToleranceHours)
	}
	if c.IngestQueueMax <= 0 {
		return fmt.Errorf("ingest_queue_max must be positive, got %d", c.IngestQueueMax)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("ingest_workers must be positive, got %d", c.IngestWorkers)
	}
	if c.TelemetryRetentionDays <= 0 || c.DriftEventsRetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	return nil
}

// DriftRules returns the detection thresholds as kernel rules.
func (c *Config) DriftRules() stats.DriftRules {
	return stats.DriftRules{
		ZScoreThreshold:         c.DriftZScoreThreshold,
		ConsecutiveThreshold:    c.DriftConsecutiveThreshold,
		ModerateZScoreThreshold: c.DriftModerateZScoreThreshold,
		ModerateCount:           c.DriftModerateCount,
		ModerateWindow:          c.DriftModerateWindow,
	}
}

// TimestampTolerance returns the clock-skew bound as a duration.
func (c *Config) TimestampTolerance() time.Duration {
	return time.Duration(c.TimestampToleranceHours) * time.Hour
}

// driftEvalHistory is how many z-score records Evaluate inspects: the
// moderate window plus the consecutive run, so both rules always see a
// full view.
func (c *Config) driftEvalHistory() int {
	return c.DriftModerateWindow + c.DriftConsecutiveThreshold
}

// recoveryFetchLimit is how many z-score records CheckRecovery fetches; a
// margin past the required run length tolerates interleaved writes.
func (c *Config) recoveryFetchLimit() int {
	return c.RecoveryConsecutiveNormal + 10
}

// LoadFile merges a YAML config file over c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges DRIFTWATCH_* environment variable overrides over c.
//
// Unset variables leave the current value; malformed values are an error
// rather than a silent fallback.
func (c *Config) LoadEnv() error {
	for _, v := range []struct {
		name   string
		target *int
	}{
		{"DRIFTWATCH_MIN_SAMPLES_FOR_BASELINE", &c.MinSamplesForBaseline},
		{"DRIFTWATCH_BASELINE_WINDOW_SIZE", &c.BaselineWindowSize},
		{"DRIFTWATCH_BASELINE_RECALC_INTERVAL", &c.BaselineRecalcInterval},
		{"DRIFTWATCH_DRIFT_CONSECUTIVE_THRESHOLD", &c.DriftConsecutiveThreshold},
		{"DRIFTWATCH_DRIFT_MODERATE_COUNT", &c.DriftModerateCount},
		{"DRIFTWATCH_DRIFT_MODERATE_WINDOW", &c.DriftModerateWindow},
		{"DRIFTWATCH_RECOVERY_CONSECUTIVE_NORMAL", &c.RecoveryConsecutiveNormal},
		{"DRIFTWATCH_TIMESTAMP_TOLERANCE_HOURS", &c.TimestampToleranceHours},
		{"DRIFTWATCH_INGEST_QUEUE_MAX", &c.IngestQueueMax},
		{"DRIFTWATCH_INGEST_WORKERS", &c.IngestWorkers},
		{"DRIFTWATCH_TELEMETRY_RETENTION_DAYS", &c.TelemetryRetentionDays},
		{"DRIFTWATCH_DRIFT_EVENTS_RETENTION_DAYS", &c.DriftEventsRetentionDays},
	} {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.target = parsed
	}

	for _, v := range []struct {
		name   string
		target *float64
	}{
		{"DRIFTWATCH_DRIFT_ZSCORE_THRESHOLD", &c.DriftZScoreThreshold},
		{"DRIFTWATCH_DRIFT_MODERATE_ZSCORE_THRESHOLD", &c.DriftModerateZScoreThreshold},
	} {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.target = parsed
	}

	if raw := os.Getenv("DRIFTWATCH_RETENTION_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("DRIFTWATCH_RETENTION_INTERVAL: %w", err)
		}
		c.RetentionInterval = parsed
	}

	return nil
}
