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
	"math"
	"testing"
	"time"

	"github.com/AleutianAI/driftwatch/services/driftwatch/stats"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

func newDetectorHarness(t *testing.T) (*DriftDetector, *store.BadgerStore, *ManualClock) {
	t.Helper()
	st, err := store.NewInMemoryStore()
	if err != nil {
		t.Fatalf("NewInMemoryStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := NewManualClock(1_000_000)
	cfg := DefaultConfig()
	return NewDriftDetector(st, clock, &cfg), st, clock
}

// seedBaseline writes a baseline of mean 150ms / stddev 25ms latency and
// mean 2.5kb / stddev 0.5kb payload.
func seedBaseline(t *testing.T, st store.Store, serviceID string) {
	t.Helper()
	err := st.UpsertBaseline(context.Background(), store.BaselineRecord{
		ServiceID:     serviceID,
		SampleCount:   100,
		MeanLatency:   150,
		StddevLatency: 25,
		MeanPayload:   2.5,
		StddevPayload: 0.5,
	})
	if err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
}

func TestEvaluateNoBaseline(t *testing.T) {
	d, st, _ := newDetectorHarness(t)
	ctx := context.Background()

	drift, meta, err := d.Evaluate(ctx, "svc", 150, 2.5, 1000)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if drift {
		t.Error("no baseline must never report drift")
	}
	if meta.Reason != stats.ReasonNoBaseline {
		t.Errorf("Reason = %q, want %q", meta.Reason, stats.ReasonNoBaseline)
	}

	// Without a baseline there is no z-score to record.
	records, err := st.RecentZScores(ctx, "svc", 10)
	if err != nil {
		t.Fatalf("RecentZScores: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("z-scores recorded without baseline: %d", len(records))
	}
}

func TestEvaluateRecordsZScores(t *testing.T) {
	d, st, clock := newDetectorHarness(t)
	ctx := context.Background()
	seedBaseline(t, st, "svc")

	drift, meta, err := d.Evaluate(ctx, "svc", 200, 3.0, clock.NowMillis())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if drift {
		t.Error("single sample must not drift")
	}
	// (200-150)/25 = 2.0, (3.0-2.5)/0.5 = 1.0
	if math.Abs(meta.CurrentLatencyZScore-2.0) > 1e-9 {
		t.Errorf("CurrentLatencyZScore = %v, want 2.0", meta.CurrentLatencyZScore)
	}
	if math.Abs(meta.CurrentPayloadZScore-1.0) > 1e-9 {
		t.Errorf("CurrentPayloadZScore = %v, want 1.0", meta.CurrentPayloadZScore)
	}

	records, err := st.RecentZScores(ctx, "svc", 10)
	if err != nil {
		t.Fatalf("RecentZScores: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if math.Abs(records[0].LatencyZScore-2.0) > 1e-9 {
		t.Errorf("stored LatencyZScore = %v, want 2.0", records[0].LatencyZScore)
	}
}

func TestEvaluateConsecutiveSevereDrift(t *testing.T) {
	d, st, clock := newDetectorHarness(t)
	ctx := context.Background()
	seedBaseline(t, st, "svc")

	// 300ms against a 150/25 baseline is z=6.0. The fifth consecutive
	// severe sample fires Rule A.
	for i := 0; i < 4; i++ {
		drift, _, err := d.Evaluate(ctx, "svc", 300, 2.5, clock.NowMillis())
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if drift {
			t.Fatalf("drift fired after %d samples, need 5", i+1)
		}
		clock.Advance(time.Millisecond)
	}

	drift, meta, err := d.Evaluate(ctx, "svc", 300, 2.5, clock.NowMillis())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !drift {
		t.Fatal("expected drift on fifth severe sample")
	}
	if meta.Reason != stats.ReasonConsecutiveSevere {
		t.Errorf("Reason = %q, want %q", meta.Reason, stats.ReasonConsecutiveSevere)
	}
	if meta.ConsecutiveCount != 5 {
		t.Errorf("ConsecutiveCount = %d, want 5", meta.ConsecutiveCount)
	}
	if math.Abs(meta.MaxZScore-6.0) > 1e-9 {
		t.Errorf("MaxZScore = %v, want 6.0", meta.MaxZScore)
	}
}

func TestEvaluateNormalTraffic(t *testing.T) {
	d, st, clock := newDetectorHarness(t)
	ctx := context.Background()
	seedBaseline(t, st, "svc")

	for i := 0; i < 30; i++ {
		drift, _, err := d.Evaluate(ctx, "svc", 155, 2.5, clock.NowMillis())
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if drift {
			t.Fatalf("normal traffic drifted at sample %d", i)
		}
		clock.Advance(time.Millisecond)
	}
}

func TestCheckRecovery(t *testing.T) {
	d, st, clock := newDetectorHarness(t)
	ctx := context.Background()

	appendZ := func(z float64) {
		t.Helper()
		now := clock.NowMillis()
		if err := st.AppendZScore(ctx, store.ZScoreRecord{
			ServiceID:     "svc",
			Timestamp:     now,
			LatencyZScore: z,
			CreatedAt:     now,
		}); err != nil {
			t.Fatalf("AppendZScore: %v", err)
		}
		clock.Advance(time.Millisecond)
	}

	// Old severe history, then 49 normal samples: one short of recovery.
	for i := 0; i < 5; i++ {
		appendZ(6.0)
	}
	for i := 0; i < 49; i++ {
		appendZ(0.5)
	}

	recovered, err := d.CheckRecovery(ctx, "svc")
	if err != nil {
		t.Fatalf("CheckRecovery: %v", err)
	}
	if recovered {
		t.Error("49 normal samples must not recover")
	}

	appendZ(0.5)
	recovered, err = d.CheckRecovery(ctx, "svc")
	if err != nil {
		t.Fatalf("CheckRecovery: %v", err)
	}
	if !recovered {
		t.Error("50 consecutive normal samples must recover")
	}
}
