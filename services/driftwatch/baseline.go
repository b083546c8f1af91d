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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/driftwatch/services/driftwatch/stats"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// BaselineManager owns the recomputation policy and persistence of
// per-service statistical baselines.
//
// # Description
//
// A baseline is a sliding window over the most recent stored samples, not
// a weighted estimator: fresh traffic gradually displaces old traffic as
// retention runs. Recomputation is amortized O(1) per sample because it
// only happens every BaselineRecalcInterval new samples.
type BaselineManager struct {
	store  store.Store
	clock  Clock
	cfg    *Config
	logger *slog.Logger
}

// BaselinePair holds the latency and payload summaries of one
// recalculation.
type BaselinePair struct {
	Latency stats.Baseline
	Payload stats.Baseline
}

// NewBaselineManager creates a baseline manager.
func NewBaselineManager(st store.Store, clock Clock, cfg *Config, logger *slog.Logger) *BaselineManager {
	return &BaselineManager{
		store:  st,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With("component", "baseline_manager"),
	}
}

// ShouldRecalculate reports whether the service's baseline is due.
//
// True when no baseline exists, or when the stored sample count has grown
// by at least BaselineRecalcInterval since the last calculation.
func (m *BaselineManager) ShouldRecalculate(ctx context.Context, serviceID string) (bool, error) {
	baseline, err := m.store.GetBaseline(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get baseline: %w", err)
	}

	count, err := m.store.TelemetryCount(ctx, serviceID)
	if err != nil {
		return false, fmt.Errorf("count telemetry: %w", err)
	}
	return count >= baseline.SampleCount+m.cfg.BaselineRecalcInterval, nil
}

// CalculateAndStore recomputes the baseline from recent telemetry.
//
// Description:
//
//	Pulls the most recent BaselineWindowSize samples (newest-first by
//	timestamp), computes latency and payload summaries, and upserts the
//	baseline row. Returns nil without error when fewer than
//	MinSamplesForBaseline samples exist yet.
//
// Outputs:
//
//	*BaselinePair - The computed summaries, or nil when insufficient.
//	error - Non-nil on store or kernel failure.
func (m *BaselineManager) CalculateAndStore(ctx context.Context, serviceID string) (*BaselinePair, error) {
	samples, err := m.store.RecentTelemetry(ctx, serviceID, m.cfg.BaselineWindowSize)
	if err != nil {
		return nil, fmt.Errorf("fetch telemetry window: %w", err)
	}
	if len(samples) < m.cfg.MinSamplesForBaseline {
		return nil, nil
	}

	latencies := make([]float64, len(samples))
	payloads := make([]float64, len(samples))
	for i, s := range samples {
		latencies[i] = s.LatencyMs
		payloads[i] = s.PayloadKb
	}

	latency, err := stats.ComputeBaseline(latencies, m.cfg.MinSamplesForBaseline)
	if err != nil {
		return nil, fmt.Errorf("latency baseline: %w", err)
	}
	payload, err := stats.ComputeBaseline(payloads, m.cfg.MinSamplesForBaseline)
	if err != nil {
		return nil, fmt.Errorf("payload baseline: %w", err)
	}

	now := m.clock.NowMillis()
	rec := store.BaselineRecord{
		ServiceID:     serviceID,
		SampleCount:   len(samples),
		MeanLatency:   latency.Mean,
		StddevLatency: latency.StdDev,
		MeanPayload:   payload.Mean,
		StddevPayload: payload.StdDev,
		P50Latency:    latency.P50,
		P95Latency:    latency.P95,
		P99Latency:    latency.P99,
		LastUpdated:   now,
		CreatedAt:     now,
	}
	if err := m.store.UpsertBaseline(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert baseline: %w", err)
	}

	m.logger.Info("Baseline updated",
		"service_id", serviceID,
		"sample_count", len(samples),
		"mean_latency", latency.Mean,
		"stddev_latency", latency.StdDev,
		"p95_latency", latency.P95)

	return &BaselinePair{Latency: latency, Payload: payload}, nil
}
