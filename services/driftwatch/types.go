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
	"encoding/json"
	"time"

	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// TelemetryRequest is one incoming measurement from a monitored service.
//
// Timestamp is optional; absent timestamps are stamped with server time,
// present ones must fall within the configured clock-skew tolerance.
type TelemetryRequest struct {
	ServiceID string     `json:"service_id" binding:"required,serviceid"`
	LatencyMs float64    `json:"latency_ms" binding:"gte=0"`
	PayloadKb float64    `json:"payload_kb" binding:"gte=0"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// IngestResult is returned on successful acceptance of a sample.
type IngestResult struct {
	Status    string `json:"status"`
	ServiceID string `json:"service_id"`
	Timestamp int64  `json:"timestamp"`
	QueueSize int    `json:"queue_size"`
}

// IngestionStats is the pipeline's counter snapshot.
//
// The counters satisfy received == processed + rejected + queue_size at
// any quiescent point.
type IngestionStats struct {
	Received       uint64  `json:"received"`
	Processed      uint64  `json:"processed"`
	Rejected       uint64  `json:"rejected"`
	QueueSize      int     `json:"queue_size"`
	ProcessingRate float64 `json:"processing_rate"`
}

// HealthSnapshot is the full health view of one service.
type HealthSnapshot struct {
	ServiceID           string                   `json:"service_id"`
	State               store.HealthState        `json:"state"`
	TransitionTimestamp int64                    `json:"transition_timestamp"`
	SampleCount         int                      `json:"sample_count"`
	Baseline            *store.BaselineRecord    `json:"baseline,omitempty"`
	Metadata            json.RawMessage          `json:"metadata,omitempty"`
	RecentEvents        []store.DriftEventRecord `json:"recent_events,omitempty"`
}

// SystemStatus summarizes the whole process.
type SystemStatus struct {
	Status                string         `json:"status"`
	UptimeSeconds         float64        `json:"uptime_seconds"`
	ServicesMonitored     int            `json:"services_monitored"`
	TotalTelemetryRecords int            `json:"total_telemetry_records"`
	ActiveSimulations     int            `json:"active_simulations"`
	Ingestion             IngestionStats `json:"ingestion"`
}

// Transition reasons recorded in audit metadata. Drift transitions carry
// the detector's own reason constants from the stats package instead.
const (
	ReasonNewlyTracked        = "newly_tracked"
	ReasonBaselineEstablished = "baseline_established"
	ReasonRecovered           = "recovered"
	ReasonManualReset         = "manual_reset"
)

// TransitionMeta is the audit blob for non-drift transitions.
//
// One shape per reason: SampleCount is set for baseline_established,
// RecoverySamples for recovered, neither for manual_reset or
// newly_tracked. Drift transitions persist a stats.DriftMeta instead.
type TransitionMeta struct {
	Reason          string `json:"reason"`
	SampleCount     int    `json:"sample_count,omitempty"`
	RecoverySamples int    `json:"recovery_samples,omitempty"`
}

// mustMarshalMeta serializes an audit blob. Metadata shapes are plain
// structs, so marshalling cannot fail; a nil return only happens on a
// programming error and is stored as an absent blob.
func mustMarshalMeta(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
