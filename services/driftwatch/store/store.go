// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// HealthState is the drift-detection state of one monitored service.
type HealthState string

const (
	// StateInsufficientData means no baseline has been established yet.
	StateInsufficientData HealthState = "INSUFFICIENT_DATA"

	// StateStable means recent samples match the baseline.
	StateStable HealthState = "STABLE"

	// StateDriftDetected means recent samples deviate from the baseline.
	StateDriftDetected HealthState = "DRIFT_DETECTED"
)

// Valid reports whether s is one of the three known states.
func (s HealthState) Valid() bool {
	switch s {
	case StateInsufficientData, StateStable, StateDriftDetected:
		return true
	}
	return false
}

// TelemetrySample is one per-request measurement. Append-only, immutable.
//
// All timestamps are integer milliseconds since the Unix epoch.
type TelemetrySample struct {
	ServiceID string  `json:"service_id"`
	Timestamp int64   `json:"timestamp"`
	LatencyMs float64 `json:"latency_ms"`
	PayloadKb float64 `json:"payload_kb"`
	CreatedAt int64   `json:"created_at"`
}

// BaselineRecord is the persisted statistical summary for one service.
// At most one exists per service; recalculation replaces it in place.
type BaselineRecord struct {
	ServiceID     string  `json:"service_id"`
	SampleCount   int     `json:"sample_count"`
	MeanLatency   float64 `json:"mean_latency"`
	StddevLatency float64 `json:"stddev_latency"`
	MeanPayload   float64 `json:"mean_payload"`
	StddevPayload float64 `json:"stddev_payload"`
	P50Latency    float64 `json:"p50_latency"`
	P95Latency    float64 `json:"p95_latency"`
	P99Latency    float64 `json:"p99_latency"`
	LastUpdated   int64   `json:"last_updated"`
	CreatedAt     int64   `json:"created_at"`
}

// HealthStateRecord is the current state row for one service.
// Exactly one exists per tracked service.
type HealthStateRecord struct {
	ServiceID           string          `json:"service_id"`
	State               HealthState     `json:"state"`
	TransitionTimestamp int64           `json:"transition_timestamp"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
}

// DriftEventRecord is one audit entry for a state transition. Append-only.
type DriftEventRecord struct {
	ID             string          `json:"id"`
	ServiceID      string          `json:"service_id"`
	DetectedAt     int64           `json:"detected_at"`
	PreviousState  HealthState     `json:"previous_state"`
	NewState       HealthState     `json:"new_state"`
	TriggerSamples []float64       `json:"trigger_samples,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// ZScoreRecord is one z-score observation. Append-only; ordering by
// CreatedAt defines recency.
type ZScoreRecord struct {
	ServiceID     string  `json:"service_id"`
	Timestamp     int64   `json:"timestamp"`
	LatencyZScore float64 `json:"latency_zscore"`
	PayloadZScore float64 `json:"payload_zscore"`
	CreatedAt     int64   `json:"created_at"`
}

// CleanupResult reports how many rows a retention pass removed.
type CleanupResult struct {
	Telemetry   int `json:"telemetry"`
	ZScores     int `json:"zscores"`
	DriftEvents int `json:"drift_events"`
}

// Store is the capability set the drift-detection engine consumes.
//
// # Description
//
// The engine depends only on this interface; the Badger-backed
// implementation is the production store and an in-memory Badger instance
// serves as the test double. Every method is a blocking boundary and
// honors context cancellation.
//
// # Thread Safety
//
// Implementations must tolerate concurrent readers and writers.
type Store interface {
	// InsertTelemetry appends one telemetry sample.
	InsertTelemetry(ctx context.Context, sample TelemetrySample) error

	// TelemetryCount returns how many samples exist for a service.
	TelemetryCount(ctx context.Context, serviceID string) (int, error)

	// TotalTelemetryCount returns how many samples exist across services.
	TotalTelemetryCount(ctx context.Context) (int, error)

	// RecentTelemetry returns up to limit samples for a service, ordered
	// newest-first by sample timestamp.
	RecentTelemetry(ctx context.Context, serviceID string, limit int) ([]TelemetrySample, error)

	// UpsertBaseline inserts or replaces the baseline row for a service,
	// preserving CreatedAt on replace.
	UpsertBaseline(ctx context.Context, rec BaselineRecord) error

	// GetBaseline returns the baseline row, or ErrNotFound.
	GetBaseline(ctx context.Context, serviceID string) (BaselineRecord, error)

	// UpsertHealthState inserts or replaces the health state row.
	UpsertHealthState(ctx context.Context, rec HealthStateRecord) error

	// GetHealthState returns the health state row, or ErrNotFound.
	GetHealthState(ctx context.Context, serviceID string) (HealthStateRecord, error)

	// MonitoredServiceCount returns how many services have a health state.
	MonitoredServiceCount(ctx context.Context) (int, error)

	// AppendDriftEvent appends one audit entry.
	AppendDriftEvent(ctx context.Context, ev DriftEventRecord) error

	// RecentDriftEvents returns up to limit events ordered newest-first by
	// DetectedAt. An empty serviceID returns events for all services.
	RecentDriftEvents(ctx context.Context, serviceID string, limit int) ([]DriftEventRecord, error)

	// AppendZScore appends one z-score observation.
	AppendZScore(ctx context.Context, rec ZScoreRecord) error

	// RecentZScores returns up to limit records for a service, ordered
	// newest-first by CreatedAt.
	RecentZScores(ctx context.Context, serviceID string, limit int) ([]ZScoreRecord, error)

	// Cleanup deletes telemetry and z-score rows with CreatedAt before
	// telemetryCutoff and drift events with DetectedAt before
	// eventsCutoff. Baselines and health states are never touched.
	Cleanup(ctx context.Context, telemetryCutoff, eventsCutoff int64) (CleanupResult, error)

	// Close releases the underlying database.
	Close() error
}
