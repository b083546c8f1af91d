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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/driftwatch/services/driftwatch/stats"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// recentEventsLimit caps the audit entries embedded in a health snapshot.
const recentEventsLimit = 5

// HealthStateManager owns the per-service drift state machine.
//
// # Description
//
// States are INSUFFICIENT_DATA, STABLE, and DRIFT_DETECTED, with
// INSUFFICIENT_DATA as the initial state and no terminal state. Every
// transition upserts the HealthState row and appends a DriftEvent audit
// entry; same-state evaluations write nothing.
//
// # Thread Safety
//
// Safe for concurrent use. A per-service mutex serializes the critical
// section pairing the state upsert with the audit append, so concurrent
// ProcessTelemetry, Snapshot, and Reset calls for the same service cannot
// interleave their writes.
type HealthStateManager struct {
	store    store.Store
	baseline *BaselineManager
	detector *DriftDetector
	clock    Clock
	cfg      *Config
	metrics  *Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHealthStateManager creates a health state manager.
func NewHealthStateManager(
	st store.Store,
	baseline *BaselineManager,
	detector *DriftDetector,
	clock Clock,
	cfg *Config,
	metrics *Metrics,
	logger *slog.Logger,
) *HealthStateManager {
	return &HealthStateManager{
		store:    st,
		baseline: baseline,
		detector: detector,
		clock:    clock,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "health_manager"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// serviceLock returns the mutex guarding one service's state writes.
// Locks are never removed; tracked services persist for the process
// lifetime anyway.
func (h *HealthStateManager) serviceLock(serviceID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lk, ok := h.locks[serviceID]
	if !ok {
		lk = &sync.Mutex{}
		h.locks[serviceID] = lk
	}
	return lk
}

// CurrentState returns the service's health row, lazily inserting an
// INSUFFICIENT_DATA row the first time the service is seen.
func (h *HealthStateManager) CurrentState(ctx context.Context, serviceID string) (store.HealthStateRecord, error) {
	rec, err := h.store.GetHealthState(ctx, serviceID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.HealthStateRecord{}, fmt.Errorf("get health state: %w", err)
	}

	rec = store.HealthStateRecord{
		ServiceID:           serviceID,
		State:               store.StateInsufficientData,
		TransitionTimestamp: h.clock.NowMillis(),
		Metadata:            mustMarshalMeta(TransitionMeta{Reason: ReasonNewlyTracked}),
	}
	if err := h.store.UpsertHealthState(ctx, rec); err != nil {
		return store.HealthStateRecord{}, fmt.Errorf("insert health state: %w", err)
	}
	h.logger.Info("Tracking new service", "service_id", serviceID)
	return rec, nil
}

// ProcessTelemetry advances the state machine for one already-persisted
// sample.
//
// Description:
//
//	Runs the full evaluation pass: read (or lazily create) the state row,
//	recompute the baseline when due, then evaluate drift and apply the
//	transition table. The sample that births a baseline is not evaluated
//	for drift; the INSUFFICIENT_DATA to STABLE transition returns
//	immediately.
//
// Inputs:
//
//	ctx - Request-scoped context.
//	sample - The persisted telemetry sample to evaluate.
//
// Outputs:
//
//	error - Non-nil on store failure. Never returned for ordinary
//	        no-transition evaluations.
func (h *HealthStateManager) ProcessTelemetry(ctx context.Context, sample store.TelemetrySample) error {
	lk := h.serviceLock(sample.ServiceID)
	lk.Lock()
	defer lk.Unlock()

	rec, err := h.CurrentState(ctx, sample.ServiceID)
	if err != nil {
		return err
	}

	due, err := h.baseline.ShouldRecalculate(ctx, sample.ServiceID)
	if err != nil {
		return err
	}
	if due {
		pair, err := h.baseline.CalculateAndStore(ctx, sample.ServiceID)
		if err != nil {
			return err
		}
		if pair != nil && rec.State == store.StateInsufficientData {
			count, err := h.store.TelemetryCount(ctx, sample.ServiceID)
			if err != nil {
				return fmt.Errorf("count telemetry: %w", err)
			}
			meta := mustMarshalMeta(TransitionMeta{
				Reason:      ReasonBaselineEstablished,
				SampleCount: count,
			})
			return h.transition(ctx, rec, store.StateStable, meta, nil)
		}
	}
	if rec.State == store.StateInsufficientData {
		return nil
	}

	drift, meta, err := h.detector.Evaluate(ctx, sample.ServiceID, sample.LatencyMs, sample.PayloadKb, sample.Timestamp)
	if err != nil {
		return err
	}

	switch rec.State {
	case store.StateStable:
		if drift {
			trigger, err := h.recentLatencyZScores(ctx, sample.ServiceID)
			if err != nil {
				return err
			}
			return h.transition(ctx, rec, store.StateDriftDetected, mustMarshalMeta(meta), trigger)
		}
	case store.StateDriftDetected:
		if !drift {
			recovered, err := h.detector.CheckRecovery(ctx, sample.ServiceID)
			if err != nil {
				return err
			}
			if recovered {
				auditMeta := mustMarshalMeta(TransitionMeta{
					Reason:          ReasonRecovered,
					RecoverySamples: h.cfg.RecoveryConsecutiveNormal,
				})
				return h.transition(ctx, rec, store.StateStable, auditMeta, nil)
			}
		}
	}
	return nil
}

// recentLatencyZScores collects the latency z-scores attached to a drift
// event as trigger samples, newest-first.
func (h *HealthStateManager) recentLatencyZScores(ctx context.Context, serviceID string) ([]float64, error) {
	history, err := h.store.RecentZScores(ctx, serviceID, h.cfg.DriftConsecutiveThreshold)
	if err != nil {
		return nil, fmt.Errorf("fetch trigger samples: %w", err)
	}
	out := make([]float64, len(history))
	for i, rec := range history {
		out[i] = rec.LatencyZScore
	}
	return out, nil
}

// transition applies a state change: upsert the health row, then append
// the audit event. Same-state calls are no-ops.
//
// Callers must hold the service lock.
func (h *HealthStateManager) transition(
	ctx context.Context,
	from store.HealthStateRecord,
	to store.HealthState,
	meta json.RawMessage,
	triggerSamples []float64,
) error {
	if from.State == to {
		return nil
	}

	now := h.clock.NowMillis()
	if err := h.store.UpsertHealthState(ctx, store.HealthStateRecord{
		ServiceID:           from.ServiceID,
		State:               to,
		TransitionTimestamp: now,
		Metadata:            meta,
	}); err != nil {
		return fmt.Errorf("upsert health state: %w", err)
	}

	ev := store.DriftEventRecord{
		ID:             uuid.NewString(),
		ServiceID:      from.ServiceID,
		DetectedAt:     now,
		PreviousState:  from.State,
		NewState:       to,
		TriggerSamples: triggerSamples,
		Metadata:       meta,
	}
	if err := h.store.AppendDriftEvent(ctx, ev); err != nil {
		return fmt.Errorf("append drift event: %w", err)
	}

	if h.metrics != nil {
		h.metrics.ObserveTransition(string(from.State), string(to))
	}
	h.logger.Info("Health state transition",
		"service_id", from.ServiceID,
		"previous_state", from.State,
		"new_state", to,
		"event_id", ev.ID)
	return nil
}

// Snapshot assembles the full health view for one service.
//
// Unknown services are lazily tracked: querying a service the engine has
// never seen creates its INSUFFICIENT_DATA row.
func (h *HealthStateManager) Snapshot(ctx context.Context, serviceID string) (HealthSnapshot, error) {
	lk := h.serviceLock(serviceID)
	lk.Lock()
	defer lk.Unlock()

	rec, err := h.CurrentState(ctx, serviceID)
	if err != nil {
		return HealthSnapshot{}, err
	}

	count, err := h.store.TelemetryCount(ctx, serviceID)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("count telemetry: %w", err)
	}

	snap := HealthSnapshot{
		ServiceID:           serviceID,
		State:               rec.State,
		TransitionTimestamp: rec.TransitionTimestamp,
		SampleCount:         count,
		Metadata:            rec.Metadata,
	}

	baseline, err := h.store.GetBaseline(ctx, serviceID)
	if err == nil {
		snap.Baseline = &baseline
	} else if !errors.Is(err, store.ErrNotFound) {
		return HealthSnapshot{}, fmt.Errorf("get baseline: %w", err)
	}

	events, err := h.store.RecentDriftEvents(ctx, serviceID, recentEventsLimit)
	if err != nil {
		return HealthSnapshot{}, fmt.Errorf("fetch recent events: %w", err)
	}
	snap.RecentEvents = events
	return snap, nil
}

// Reset forces a service back to INSUFFICIENT_DATA.
//
// Idempotent: resetting a service already in INSUFFICIENT_DATA writes no
// event.
func (h *HealthStateManager) Reset(ctx context.Context, serviceID string) error {
	lk := h.serviceLock(serviceID)
	lk.Lock()
	defer lk.Unlock()

	rec, err := h.CurrentState(ctx, serviceID)
	if err != nil {
		return err
	}
	meta := mustMarshalMeta(TransitionMeta{Reason: ReasonManualReset})
	return h.transition(ctx, rec, store.StateInsufficientData, meta, nil)
}

// driftMetaFromRecord decodes a stored drift metadata blob. Used by tests
// and diagnostics surfaces; tolerates absent blobs.
func driftMetaFromRecord(raw json.RawMessage) (stats.DriftMeta, error) {
	var meta stats.DriftMeta
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return stats.DriftMeta{}, fmt.Errorf("decode drift metadata: %w", err)
	}
	return meta, nil
}
