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

	"github.com/AleutianAI/driftwatch/services/driftwatch/stats"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// DriftDetector compares new samples against the persisted baseline.
//
// Only the latency z-score gates state transitions; the payload z-score
// is recorded and surfaced for diagnostics but never fires drift on its
// own.
type DriftDetector struct {
	store store.Store
	clock Clock
	cfg   *Config
}

// NewDriftDetector creates a drift detector.
func NewDriftDetector(st store.Store, clock Clock, cfg *Config) *DriftDetector {
	return &DriftDetector{store: st, clock: clock, cfg: cfg}
}

// Evaluate scores one sample against the baseline and checks the drift
// rules over the recent z-score history.
//
// Description:
//
//	Fetches the baseline (absent baseline yields a no_baseline verdict),
//	computes latency and payload z-scores, appends a ZScoreRecord, then
//	runs the two-rule detection over the most recent history
//	(newest-first latency z-scores). The current z-scores are attached
//	to the returned metadata for the audit trail.
//
// Outputs:
//
//	bool - True when either drift rule fires.
//	stats.DriftMeta - Verdict metadata.
//	error - Non-nil on store failure.
func (d *DriftDetector) Evaluate(ctx context.Context, serviceID string, latencyMs, payloadKb float64, ts int64) (bool, stats.DriftMeta, error) {
	baseline, err := d.store.GetBaseline(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return false, stats.DriftMeta{Reason: stats.ReasonNoBaseline}, nil
	}
	if err != nil {
		return false, stats.DriftMeta{}, fmt.Errorf("get baseline: %w", err)
	}

	latencyZ := stats.ZScore(latencyMs, baseline.MeanLatency, baseline.StddevLatency)
	payloadZ := stats.ZScore(payloadKb, baseline.MeanPayload, baseline.StddevPayload)

	if err := d.store.AppendZScore(ctx, store.ZScoreRecord{
		ServiceID:     serviceID,
		Timestamp:     ts,
		LatencyZScore: latencyZ,
		PayloadZScore: payloadZ,
		CreatedAt:     d.clock.NowMillis(),
	}); err != nil {
		return false, stats.DriftMeta{}, fmt.Errorf("append zscore: %w", err)
	}

	history, err := d.store.RecentZScores(ctx, serviceID, d.cfg.driftEvalHistory())
	if err != nil {
		return false, stats.DriftMeta{}, fmt.Errorf("fetch zscore history: %w", err)
	}

	zs := make([]float64, len(history))
	for i, rec := range history {
		zs[i] = rec.LatencyZScore
	}

	drift, meta := stats.DetectDrift(zs, d.cfg.DriftRules())
	meta.CurrentLatencyZScore = latencyZ
	meta.CurrentPayloadZScore = payloadZ
	return drift, meta, nil
}

// CheckRecovery reports whether the service's recent history qualifies as
// recovered from drift.
func (d *DriftDetector) CheckRecovery(ctx context.Context, serviceID string) (bool, error) {
	history, err := d.store.RecentZScores(ctx, serviceID, d.cfg.recoveryFetchLimit())
	if err != nil {
		return false, fmt.Errorf("fetch zscore history: %w", err)
	}

	zs := make([]float64, len(history))
	for i, rec := range history {
		zs[i] = rec.LatencyZScore
	}
	return stats.IsRecovered(zs, d.cfg.RecoveryConsecutiveNormal), nil
}
