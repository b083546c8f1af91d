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
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// RetentionJanitor periodically deletes expired telemetry, z-score, and
// drift-event rows. Baselines and health states are never expired.
type RetentionJanitor struct {
	store  store.Store
	clock  Clock
	cfg    *Config
	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRetentionJanitor creates a janitor. Call Start to begin the loop.
func NewRetentionJanitor(st store.Store, clock Clock, cfg *Config, logger *slog.Logger) *RetentionJanitor {
	return &RetentionJanitor{
		store:  st,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With("component", "retention"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the background cleanup loop.
func (j *RetentionJanitor) Start() {
	go j.run()
}

// Stop signals the loop to exit and waits for it.
func (j *RetentionJanitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *RetentionJanitor) run() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.cfg.RetentionInterval)
	defer ticker.Stop()

	j.logger.Info("Retention janitor started",
		"interval", j.cfg.RetentionInterval,
		"telemetry_days", j.cfg.TelemetryRetentionDays,
		"events_days", j.cfg.DriftEventsRetentionDays)

	for {
		select {
		case <-j.stopCh:
			j.logger.Info("Retention janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(context.Background()); err != nil {
				j.logger.Error("Retention pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single retention pass.
func (j *RetentionJanitor) RunOnce(ctx context.Context) (store.CleanupResult, error) {
	now := j.clock.NowMillis()
	telemetryCutoff := now - int64(j.cfg.TelemetryRetentionDays)*24*time.Hour.Milliseconds()
	eventsCutoff := now - int64(j.cfg.DriftEventsRetentionDays)*24*time.Hour.Milliseconds()

	result, err := j.store.Cleanup(ctx, telemetryCutoff, eventsCutoff)
	if err != nil {
		return store.CleanupResult{}, err
	}
	if result.Telemetry > 0 || result.ZScores > 0 || result.DriftEvents > 0 {
		j.logger.Info("Retention pass complete",
			"telemetry_deleted", result.Telemetry,
			"zscores_deleted", result.ZScores,
			"events_deleted", result.DriftEvents)
	}
	return result, nil
}
