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
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func mean(points []patternPoint) float64 {
	sum := 0.0
	for _, pt := range points {
		sum += pt.latencyMs
	}
	return sum / float64(len(points))
}

func TestTrafficModeValid(t *testing.T) {
	for _, mode := range []TrafficMode{ModeNormal, ModeSpike, ModeCreep} {
		if !mode.Valid() {
			t.Errorf("%s should be valid", mode)
		}
	}
	if TrafficMode("BURST").Valid() {
		t.Error("unknown mode should be invalid")
	}
}

func TestGenerateNormal(t *testing.T) {
	points := generateNormal(testRNG(), 1000, simNormalLatencyMean, simNormalLatencyStd)
	if len(points) != 1000 {
		t.Fatalf("len = %d, want 1000", len(points))
	}
	for i, pt := range points {
		if pt.latencyMs < 1 {
			t.Fatalf("point %d latency %v below 1ms clip", i, pt.latencyMs)
		}
		if pt.payloadKb < 0.1 {
			t.Fatalf("point %d payload %v below 0.1kb clip", i, pt.payloadKb)
		}
	}

	m := mean(points)
	if m < 140 || m > 160 {
		t.Errorf("mean latency = %v, want near 150", m)
	}
}

func TestGenerateSpikePattern(t *testing.T) {
	const total = 1000
	points := generatePattern(testRNG(), ModeSpike, total)
	if len(points) != total {
		t.Fatalf("len = %d, want %d", len(points), total)
	}

	phase1 := points[:400]
	phase2 := points[400:700]
	phase3 := points[700:]

	if m := mean(phase1); m > 200 {
		t.Errorf("phase 1 mean = %v, want normal traffic", m)
	}
	if m := mean(phase2); m < 400 {
		t.Errorf("phase 2 mean = %v, want spiked traffic near 500", m)
	}
	if m := mean(phase3); m > 200 {
		t.Errorf("phase 3 mean = %v, want recovered traffic", m)
	}
}

func TestGenerateCreepPattern(t *testing.T) {
	const total = 1000
	points := generatePattern(testRNG(), ModeCreep, total)
	if len(points) != total {
		t.Fatalf("len = %d, want %d", len(points), total)
	}

	early := mean(points[:100])
	late := mean(points[900:])
	if late <= early {
		t.Errorf("creep not increasing: early mean %v, late mean %v", early, late)
	}
	if late < 250 {
		t.Errorf("late mean = %v, want near the doubled latency", late)
	}
}

func newSimHarness(t *testing.T) (*SimulationManager, *IngestionService) {
	t.Helper()
	h := newEngineHarness(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	ingest := NewIngestionService(h.store, h.health, h.clock, h.cfg, metrics, discardLogger())
	ingest.Start()
	t.Cleanup(func() { ingest.Stop(time.Second) })
	return NewSimulationManager(ingest, discardLogger()), ingest
}

func TestSimulationLifecycle(t *testing.T) {
	sim, _ := newSimHarness(t)
	t.Cleanup(sim.StopAll)

	req := SimulationRequest{
		ServiceID:        "svc",
		Mode:             ModeNormal,
		DurationSeconds:  60,
		SamplesPerSecond: 1,
	}
	total, err := sim.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if total != 60 {
		t.Errorf("total = %d, want 60", total)
	}
	if sim.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", sim.ActiveCount())
	}

	// One run per service.
	if _, err := sim.Start(req); !errors.Is(err, ErrSimulationRunning) {
		t.Errorf("duplicate Start error = %v, want ErrSimulationRunning", err)
	}

	// A different service may run concurrently.
	other := req
	other.ServiceID = "other"
	if _, err := sim.Start(other); err != nil {
		t.Fatalf("Start other: %v", err)
	}
	if sim.ActiveCount() != 2 {
		t.Errorf("ActiveCount = %d, want 2", sim.ActiveCount())
	}

	active := sim.Active()
	if len(active) != 2 {
		t.Errorf("len(Active()) = %d, want 2", len(active))
	}

	if !sim.Stop("svc") {
		t.Error("Stop should report an active run")
	}
	sim.StopAll()
	if sim.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after StopAll, want 0", sim.ActiveCount())
	}

	if sim.Stop("svc") {
		t.Error("Stop after completion should report no run")
	}
}

func TestSimulationRejectsUnknownMode(t *testing.T) {
	sim, _ := newSimHarness(t)

	_, err := sim.Start(SimulationRequest{
		ServiceID:        "svc",
		Mode:             TrafficMode("BURST"),
		DurationSeconds:  10,
		SamplesPerSecond: 1,
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
