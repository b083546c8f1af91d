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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig must validate: %v", err)
	}

	if cfg.MinSamplesForBaseline != 100 {
		t.Errorf("MinSamplesForBaseline = %d, want 100", cfg.MinSamplesForBaseline)
	}
	if cfg.BaselineWindowSize != 1000 {
		t.Errorf("BaselineWindowSize = %d, want 1000", cfg.BaselineWindowSize)
	}
	if cfg.IngestQueueMax != 10000 {
		t.Errorf("IngestQueueMax = %d, want 10000", cfg.IngestQueueMax)
	}
	if cfg.driftEvalHistory() != 25 {
		t.Errorf("driftEvalHistory = %d, want 25", cfg.driftEvalHistory())
	}
	if cfg.recoveryFetchLimit() != 60 {
		t.Errorf("recoveryFetchLimit = %d, want 60", cfg.recoveryFetchLimit())
	}
	if cfg.TimestampTolerance() != time.Hour {
		t.Errorf("TimestampTolerance = %v, want 1h", cfg.TimestampTolerance())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"min samples too low", func(c *Config) { c.MinSamplesForBaseline = 1 }},
		{"window below min samples", func(c *Config) { c.BaselineWindowSize = 50 }},
		{"zero recalc interval", func(c *Config) { c.BaselineRecalcInterval = 0 }},
		{"severe below moderate", func(c *Config) { c.DriftZScoreThreshold = 2.0 }},
		{"zero consecutive", func(c *Config) { c.DriftConsecutiveThreshold = 0 }},
		{"window below count", func(c *Config) { c.DriftModerateWindow = 5 }},
		{"zero recovery", func(c *Config) { c.RecoveryConsecutiveNormal = 0 }},
		{"zero tolerance", func(c *Config) { c.TimestampToleranceHours = 0 }},
		{"zero queue", func(c *Config) { c.IngestQueueMax = 0 }},
		{"zero workers", func(c *Config) { c.IngestWorkers = 0 }},
		{"zero retention", func(c *Config) { c.TelemetryRetentionDays = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("min_samples_for_baseline: 200\ndrift_zscore_threshold: 4.5\nretention_interval: 30m\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.MinSamplesForBaseline != 200 {
		t.Errorf("MinSamplesForBaseline = %d, want 200", cfg.MinSamplesForBaseline)
	}
	if cfg.DriftZScoreThreshold != 4.5 {
		t.Errorf("DriftZScoreThreshold = %v, want 4.5", cfg.DriftZScoreThreshold)
	}
	if cfg.RetentionInterval != 30*time.Minute {
		t.Errorf("RetentionInterval = %v, want 30m", cfg.RetentionInterval)
	}
	// Untouched fields keep their defaults.
	if cfg.BaselineWindowSize != 1000 {
		t.Errorf("BaselineWindowSize = %d, want default 1000", cfg.BaselineWindowSize)
	}
}

func TestConfigLoadFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigLoadEnv(t *testing.T) {
	t.Setenv("DRIFTWATCH_INGEST_QUEUE_MAX", "500")
	t.Setenv("DRIFTWATCH_DRIFT_ZSCORE_THRESHOLD", "3.5")
	t.Setenv("DRIFTWATCH_RETENTION_INTERVAL", "15m")

	cfg := DefaultConfig()
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}

	if cfg.IngestQueueMax != 500 {
		t.Errorf("IngestQueueMax = %d, want 500", cfg.IngestQueueMax)
	}
	if cfg.DriftZScoreThreshold != 3.5 {
		t.Errorf("DriftZScoreThreshold = %v, want 3.5", cfg.DriftZScoreThreshold)
	}
	if cfg.RetentionInterval != 15*time.Minute {
		t.Errorf("RetentionInterval = %v, want 15m", cfg.RetentionInterval)
	}
}

func TestConfigLoadEnvMalformed(t *testing.T) {
	t.Setenv("DRIFTWATCH_INGEST_WORKERS", "many")

	cfg := DefaultConfig()
	if err := cfg.LoadEnv(); err == nil {
		t.Error("expected error for malformed integer")
	}
}
