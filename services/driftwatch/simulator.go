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
	"math"
	"math/rand/v2"
	"sync"

	"golang.org/x/time/rate"
)

// TrafficMode selects a synthetic traffic pattern.
type TrafficMode string

const (
	// ModeNormal is healthy steady-state traffic.
	ModeNormal TrafficMode = "NORMAL"

	// ModeSpike is normal traffic with a sudden latency spike in the
	// middle 30% of the run, then recovery.
	ModeSpike TrafficMode = "SPIKE"

	// ModeCreep is a gradual linear latency increase over the whole run.
	ModeCreep TrafficMode = "CREEP"
)

// Valid reports whether m is a known traffic mode.
func (m TrafficMode) Valid() bool {
	switch m {
	case ModeNormal, ModeSpike, ModeCreep:
		return true
	}
	return false
}

// Default shape parameters for generated traffic.
const (
	simNormalLatencyMean = 150.0
	simNormalLatencyStd  = 25.0
	simSpikeLatencyMean  = 500.0
	simCreepEndLatency   = 300.0
	simPayloadMean       = 2.5
	simPayloadStd        = 0.8
)

// SimulationRequest starts one synthetic traffic run.
type SimulationRequest struct {
	ServiceID        string      `json:"service_id" binding:"required,serviceid"`
	Mode             TrafficMode `json:"mode" binding:"required"`
	DurationSeconds  int         `json:"duration_seconds" binding:"required,gt=0,lte=3600"`
	SamplesPerSecond int         `json:"samples_per_second" binding:"required,gt=0,lte=1000"`
}

// SimulationStatus describes one active or finished run.
type SimulationStatus struct {
	ServiceID string      `json:"service_id"`
	Mode      TrafficMode `json:"mode"`
	Total     int         `json:"total_samples"`
	Sent      int         `json:"sent"`
	Failed    int         `json:"failed"`
}

// patternPoint is one generated measurement.
type patternPoint struct {
	latencyMs float64
	payloadKb float64
}

// generateNormal draws count points: Gaussian latency clipped at 1ms,
// log-normal payload clipped at 0.1kb.
func generateNormal(rng *rand.Rand, count int, latMean, latStd float64) []patternPoint {
	out := make([]patternPoint, count)
	sigma := simPayloadStd / simPayloadMean
	for i := range out {
		lat := latMean + latStd*rng.NormFloat64()
		if lat < 1 {
			lat = 1
		}
		pay := math.Exp(math.Log(simPayloadMean) + sigma*rng.NormFloat64())
		if pay < 0.1 {
			pay = 0.1
		}
		out[i] = patternPoint{latencyMs: lat, payloadKb: pay}
	}
	return out
}

// generatePattern builds the full sample sequence for one run.
//
// SPIKE: first 40% normal, middle 30% at the spike mean with 15% relative
// stddev, last 30% normal again. CREEP: the mean rises linearly from the
// normal mean to twice it, stddev tracking at 15% of the current mean.
func generatePattern(rng *rand.Rand, mode TrafficMode, total int) []patternPoint {
	switch mode {
	case ModeSpike:
		phase1End := int(float64(total) * 0.4)
		phase2End := int(float64(total) * 0.7)
		out := make([]patternPoint, 0, total)
		out = append(out, generateNormal(rng, phase1End, simNormalLatencyMean, simNormalLatencyStd)...)
		out = append(out, generateNormal(rng, phase2End-phase1End, simSpikeLatencyMean, simSpikeLatencyMean*0.15)...)
		out = append(out, generateNormal(rng, total-phase2End, simNormalLatencyMean, simNormalLatencyStd)...)
		return out
	case ModeCreep:
		out := make([]patternPoint, 0, total)
		for i := 0; i < total; i++ {
			progress := float64(i) / float64(total)
			mean := simNormalLatencyMean + (simCreepEndLatency-simNormalLatencyMean)*progress
			out = append(out, generateNormal(rng, 1, mean, mean*0.15)...)
		}
		return out
	default:
		return generateNormal(rng, total, simNormalLatencyMean, simNormalLatencyStd)
	}
}

// SimulationManager runs synthetic traffic generators against the
// ingestion pipeline, one active run per service.
//
// # Thread Safety
//
// Safe for concurrent use.
type SimulationManager struct {
	ingest *IngestionService
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*simulationRun
	wg     sync.WaitGroup
}

type simulationRun struct {
	mode   TrafficMode
	total  int
	cancel context.CancelFunc

	mu     sync.Mutex
	sent   int
	failed int
}

// NewSimulationManager creates a simulation manager.
func NewSimulationManager(ingest *IngestionService, logger *slog.Logger) *SimulationManager {
	return &SimulationManager{
		ingest: ingest,
		logger: logger.With("component", "simulator"),
		active: make(map[string]*simulationRun),
	}
}

// Start launches one run in the background.
//
// Description:
//
//	Generates the full sample sequence up front, then feeds it to the
//	ingestion pipeline paced at the requested rate. At most one run per
//	service may be active; a second Start for the same service fails with
//	ErrSimulationRunning. Backpressure and validation rejections count as
//	failed sends and do not abort the run.
//
// Outputs:
//
//	int - Total samples the run will attempt to send.
//	error - ErrValidation or ErrSimulationRunning.
func (m *SimulationManager) Start(req SimulationRequest) (int, error) {
	if !req.Mode.Valid() {
		return 0, fmt.Errorf("%w: unknown traffic mode %q", ErrValidation, req.Mode)
	}

	total := req.DurationSeconds * req.SamplesPerSecond
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	pattern := generatePattern(rng, req.Mode, total)

	ctx, cancel := context.WithCancel(context.Background())
	run := &simulationRun{mode: req.Mode, total: total, cancel: cancel}

	m.mu.Lock()
	if _, exists := m.active[req.ServiceID]; exists {
		m.mu.Unlock()
		cancel()
		return 0, fmt.Errorf("%w: %s", ErrSimulationRunning, req.ServiceID)
	}
	m.active[req.ServiceID] = run
	m.mu.Unlock()

	m.logger.Info("Simulation started",
		"service_id", req.ServiceID,
		"mode", req.Mode,
		"duration_s", req.DurationSeconds,
		"rate", req.SamplesPerSecond,
		"total_samples", total)

	m.wg.Add(1)
	go m.run(ctx, req.ServiceID, run, pattern, req.SamplesPerSecond)
	return total, nil
}

func (m *SimulationManager) run(ctx context.Context, serviceID string, run *simulationRun, pattern []patternPoint, perSecond int) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, serviceID)
		m.mu.Unlock()
	}()

	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	for _, pt := range pattern {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		_, err := m.ingest.Ingest(ctx, TelemetryRequest{
			ServiceID: serviceID,
			LatencyMs: pt.latencyMs,
			PayloadKb: pt.payloadKb,
		})

		run.mu.Lock()
		if err != nil {
			run.failed++
		} else {
			run.sent++
		}
		run.mu.Unlock()

		if errors.Is(err, ErrShuttingDown) {
			break
		}
	}

	run.mu.Lock()
	sent, failed := run.sent, run.failed
	run.mu.Unlock()
	m.logger.Info("Simulation finished",
		"service_id", serviceID,
		"mode", run.mode,
		"sent", sent,
		"failed", failed)
}

// Stop cancels the active run for one service. Returns false if none.
func (m *SimulationManager) Stop(serviceID string) bool {
	m.mu.Lock()
	run, ok := m.active[serviceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}

// StopAll cancels every active run and waits for them to exit.
func (m *SimulationManager) StopAll() {
	m.mu.Lock()
	for _, run := range m.active {
		run.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ActiveCount returns how many runs are currently active.
func (m *SimulationManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Active returns the status of every active run.
func (m *SimulationManager) Active() []SimulationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SimulationStatus, 0, len(m.active))
	for id, run := range m.active {
		run.mu.Lock()
		out = append(out, SimulationStatus{
			ServiceID: id,
			Mode:      run.mode,
			Total:     run.total,
			Sent:      run.sent,
			Failed:    run.failed,
		})
		run.mu.Unlock()
	}
	return out
}
