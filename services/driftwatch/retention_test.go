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
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

func TestRetentionRunOnce(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	janitor := NewRetentionJanitor(h.store, h.clock, h.cfg, discardLogger())

	now := h.clock.NowMillis()
	day := 24 * time.Hour.Milliseconds()

	// Telemetry and z-scores expire after 7 days, events after 30.
	fixtures := []struct {
		createdAt int64
		expired   bool
	}{
		{now - 8*day, true},
		{now - 6*day, false},
	}
	for i, f := range fixtures {
		if err := h.store.InsertTelemetry(ctx, store.TelemetrySample{
			ServiceID: "svc", Timestamp: f.createdAt, CreatedAt: f.createdAt,
		}); err != nil {
			t.Fatalf("InsertTelemetry %d: %v", i, err)
		}
		if err := h.store.AppendZScore(ctx, store.ZScoreRecord{
			ServiceID: "svc", CreatedAt: f.createdAt,
		}); err != nil {
			t.Fatalf("AppendZScore %d: %v", i, err)
		}
	}
	for i, detectedAt := range []int64{now - 31*day, now - 29*day} {
		if err := h.store.AppendDriftEvent(ctx, store.DriftEventRecord{
			ID: uuid.NewString(), ServiceID: "svc", DetectedAt: detectedAt,
		}); err != nil {
			t.Fatalf("AppendDriftEvent %d: %v", i, err)
		}
	}

	result, err := janitor.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Telemetry != 1 || result.ZScores != 1 || result.DriftEvents != 1 {
		t.Errorf("RunOnce = %+v, want 1 of each", result)
	}

	count, err := h.store.TelemetryCount(ctx, "svc")
	if err != nil {
		t.Fatalf("TelemetryCount: %v", err)
	}
	if count != 1 {
		t.Errorf("surviving telemetry = %d, want 1", count)
	}
}

func TestRetentionStartStop(t *testing.T) {
	h := newEngineHarness(t)
	h.cfg.RetentionInterval = 5 * time.Millisecond
	janitor := NewRetentionJanitor(h.store, h.clock, h.cfg, discardLogger())

	janitor.Start()
	time.Sleep(25 * time.Millisecond)
	janitor.Stop() // must not hang or panic with an empty store
}
