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
	"errors"
	"fmt"
	"testing"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewInMemoryStore()
	if err != nil {
		t.Fatalf("NewInMemoryStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestTelemetryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sample := TelemetrySample{
			ServiceID: "payment-service",
			Timestamp: int64(1000 + i),
			LatencyMs: float64(100 + i),
			PayloadKb: 2.5,
			CreatedAt: int64(1000 + i),
		}
		if err := s.InsertTelemetry(ctx, sample); err != nil {
			t.Fatalf("InsertTelemetry: %v", err)
		}
	}

	count, err := s.TelemetryCount(ctx, "payment-service")
	if err != nil {
		t.Fatalf("TelemetryCount: %v", err)
	}
	if count != 5 {
		t.Errorf("TelemetryCount = %d, want 5", count)
	}

	samples, err := s.RecentTelemetry(ctx, "payment-service", 3)
	if err != nil {
		t.Fatalf("RecentTelemetry: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	for i, want := range []int64{1004, 1003, 1002} {
		if samples[i].Timestamp != want {
			t.Errorf("samples[%d].Timestamp = %d, want %d (newest-first)", i, samples[i].Timestamp, want)
		}
	}
}

func TestTelemetryNewestFirstWithTiedTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same timestamp; later insertions must come back first.
	for i := 0; i < 3; i++ {
		sample := TelemetrySample{
			ServiceID: "svc",
			Timestamp: 5000,
			LatencyMs: float64(i),
			CreatedAt: 5000,
		}
		if err := s.InsertTelemetry(ctx, sample); err != nil {
			t.Fatalf("InsertTelemetry: %v", err)
		}
	}

	samples, err := s.RecentTelemetry(ctx, "svc", 10)
	if err != nil {
		t.Fatalf("RecentTelemetry: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	for i, want := range []float64{2, 1, 0} {
		if samples[i].LatencyMs != want {
			t.Errorf("samples[%d].LatencyMs = %v, want %v", i, samples[i].LatencyMs, want)
		}
	}
}

func TestTelemetryCountIsolatesServices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// "svc" is a key prefix of "svc-2"; counts must not bleed.
	for _, id := range []string{"svc", "svc", "svc-2"} {
		if err := s.InsertTelemetry(ctx, TelemetrySample{ServiceID: id, Timestamp: 1, CreatedAt: 1}); err != nil {
			t.Fatalf("InsertTelemetry: %v", err)
		}
	}

	count, err := s.TelemetryCount(ctx, "svc")
	if err != nil {
		t.Fatalf("TelemetryCount: %v", err)
	}
	if count != 2 {
		t.Errorf("TelemetryCount(svc) = %d, want 2", count)
	}

	total, err := s.TotalTelemetryCount(ctx)
	if err != nil {
		t.Fatalf("TotalTelemetryCount: %v", err)
	}
	if total != 3 {
		t.Errorf("TotalTelemetryCount = %d, want 3", total)
	}
}

func TestBaselineUpsertPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetBaseline(ctx, "svc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBaseline on empty store = %v, want ErrNotFound", err)
	}

	first := BaselineRecord{
		ServiceID:   "svc",
		SampleCount: 100,
		MeanLatency: 150,
		LastUpdated: 1000,
		CreatedAt:   1000,
	}
	if err := s.UpsertBaseline(ctx, first); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}

	second := first
	second.SampleCount = 150
	second.MeanLatency = 160
	second.LastUpdated = 2000
	second.CreatedAt = 2000
	if err := s.UpsertBaseline(ctx, second); err != nil {
		t.Fatalf("UpsertBaseline replace: %v", err)
	}

	got, err := s.GetBaseline(ctx, "svc")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if got.SampleCount != 150 || got.MeanLatency != 160 || got.LastUpdated != 2000 {
		t.Errorf("replaced fields not updated: %+v", got)
	}
	if got.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want 1000 (preserved on replace)", got.CreatedAt)
	}
}

func TestHealthStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetHealthState(ctx, "svc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetHealthState on empty store = %v, want ErrNotFound", err)
	}

	rec := HealthStateRecord{
		ServiceID:           "svc",
		State:               StateInsufficientData,
		TransitionTimestamp: 1000,
		Metadata:            []byte(`{"reason":"newly_tracked"}`),
	}
	if err := s.UpsertHealthState(ctx, rec); err != nil {
		t.Fatalf("UpsertHealthState: %v", err)
	}

	rec.State = StateStable
	rec.TransitionTimestamp = 2000
	if err := s.UpsertHealthState(ctx, rec); err != nil {
		t.Fatalf("UpsertHealthState replace: %v", err)
	}

	got, err := s.GetHealthState(ctx, "svc")
	if err != nil {
		t.Fatalf("GetHealthState: %v", err)
	}
	if got.State != StateStable || got.TransitionTimestamp != 2000 {
		t.Errorf("got %+v, want STABLE at 2000", got)
	}

	count, err := s.MonitoredServiceCount(ctx)
	if err != nil {
		t.Fatalf("MonitoredServiceCount: %v", err)
	}
	if count != 1 {
		t.Errorf("MonitoredServiceCount = %d, want 1 (upsert, not append)", count)
	}
}

func TestDriftEventsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		svc := "svc-a"
		if i%2 == 1 {
			svc = "svc-b"
		}
		ev := DriftEventRecord{
			ID:            fmt.Sprintf("ev-%d", i),
			ServiceID:     svc,
			DetectedAt:    int64(1000 + i),
			PreviousState: StateStable,
			NewState:      StateDriftDetected,
		}
		if err := s.AppendDriftEvent(ctx, ev); err != nil {
			t.Fatalf("AppendDriftEvent: %v", err)
		}
	}

	all, err := s.RecentDriftEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentDriftEvents: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("len(all) = %d, want 6", len(all))
	}
	if all[0].ID != "ev-5" || all[5].ID != "ev-0" {
		t.Errorf("events not newest-first: first=%s last=%s", all[0].ID, all[5].ID)
	}

	filtered, err := s.RecentDriftEvents(ctx, "svc-a", 10)
	if err != nil {
		t.Fatalf("RecentDriftEvents filtered: %v", err)
	}
	if len(filtered) != 3 {
		t.Fatalf("len(filtered) = %d, want 3", len(filtered))
	}
	for _, ev := range filtered {
		if ev.ServiceID != "svc-a" {
			t.Errorf("filter leaked event for %s", ev.ServiceID)
		}
	}

	limited, err := s.RecentDriftEvents(ctx, "", 2)
	if err != nil {
		t.Fatalf("RecentDriftEvents limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "ev-5" {
		t.Errorf("limit not applied newest-first: %+v", limited)
	}
}

func TestZScoresNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		rec := ZScoreRecord{
			ServiceID:     "svc",
			Timestamp:     int64(i),
			LatencyZScore: float64(i),
			CreatedAt:     int64(1000 + i),
		}
		if err := s.AppendZScore(ctx, rec); err != nil {
			t.Fatalf("AppendZScore: %v", err)
		}
	}

	records, err := s.RecentZScores(ctx, "svc", 3)
	if err != nil {
		t.Fatalf("RecentZScores: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i, want := range []float64{3, 2, 1} {
		if records[i].LatencyZScore != want {
			t.Errorf("records[%d].LatencyZScore = %v, want %v", i, records[i].LatencyZScore, want)
		}
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two expired and one fresh of each time-ordered entity.
	for i, createdAt := range []int64{100, 200, 9000} {
		if err := s.InsertTelemetry(ctx, TelemetrySample{
			ServiceID: "svc", Timestamp: int64(i), CreatedAt: createdAt,
		}); err != nil {
			t.Fatalf("InsertTelemetry: %v", err)
		}
		if err := s.AppendZScore(ctx, ZScoreRecord{
			ServiceID: "svc", CreatedAt: createdAt,
		}); err != nil {
			t.Fatalf("AppendZScore: %v", err)
		}
		if err := s.AppendDriftEvent(ctx, DriftEventRecord{
			ID: fmt.Sprintf("ev-%d", i), ServiceID: "svc", DetectedAt: createdAt,
		}); err != nil {
			t.Fatalf("AppendDriftEvent: %v", err)
		}
	}

	// Baseline and health state must survive cleanup.
	if err := s.UpsertBaseline(ctx, BaselineRecord{ServiceID: "svc", CreatedAt: 100}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
	if err := s.UpsertHealthState(ctx, HealthStateRecord{ServiceID: "svc", State: StateStable}); err != nil {
		t.Fatalf("UpsertHealthState: %v", err)
	}

	result, err := s.Cleanup(ctx, 500, 500)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.Telemetry != 2 || result.ZScores != 2 || result.DriftEvents != 2 {
		t.Errorf("Cleanup = %+v, want 2 of each", result)
	}

	count, err := s.TelemetryCount(ctx, "svc")
	if err != nil {
		t.Fatalf("TelemetryCount: %v", err)
	}
	if count != 1 {
		t.Errorf("surviving telemetry = %d, want 1", count)
	}

	events, err := s.RecentDriftEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentDriftEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-2" {
		t.Errorf("surviving events = %+v, want only ev-2", events)
	}

	if _, err := s.GetBaseline(ctx, "svc"); err != nil {
		t.Errorf("baseline should survive cleanup: %v", err)
	}
	if _, err := s.GetHealthState(ctx, "svc"); err != nil {
		t.Errorf("health state should survive cleanup: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.InsertTelemetry(ctx, TelemetrySample{ServiceID: "svc"}); err == nil {
		t.Error("expected error on cancelled context")
	}
	if _, err := s.RecentTelemetry(ctx, "svc", 10); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestPersistentStoreRequiresPath(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewBadgerStore(cfg); err == nil {
		t.Error("expected error when Path is empty for persistent store")
	}
}

func TestParseInvKey(t *testing.T) {
	key := string(zscoreKey("svc", 12345, "00000000000000ff"))
	ms, ok := parseInvKey(key, prefixZScore, true)
	if !ok || ms != 12345 {
		t.Errorf("parseInvKey = (%d, %v), want (12345, true)", ms, ok)
	}

	evKey := string(eventKey(6789, "00000000000000ff"))
	ms, ok = parseInvKey(evKey, prefixEvent, false)
	if !ok || ms != 6789 {
		t.Errorf("parseInvKey event = (%d, %v), want (6789, true)", ms, ok)
	}

	if _, ok := parseInvKey("zsc:short", prefixZScore, true); ok {
		t.Error("malformed key should not parse")
	}
}
