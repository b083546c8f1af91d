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
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/driftwatch/pkg/validation"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

// IngestionService is the two-stage pipeline between the request boundary
// and the stateful engine.
//
// # Description
//
// Stage one (Ingest) validates and enqueues without blocking; a full
// buffer fails fast with ErrBackpressure rather than stalling producers.
// Stage two is a worker pool draining the buffer. Work is sharded by FNV
// hash of service_id, so samples for one service are always processed by
// the same worker in acceptance order while different services proceed in
// parallel.
//
// # Thread Safety
//
// Ingest and Stats are safe for concurrent use, including concurrently
// with Stop: producers racing shutdown are refused with ErrShuttingDown.
// Start and Stop must be called once each, in that order.
type IngestionService struct {
	health  *HealthStateManager
	store   store.Store
	clock   Clock
	cfg     *Config
	metrics *Metrics
	logger  *slog.Logger

	shards []chan store.TelemetrySample

	// depth is the global buffered-item count; the capacity bound is
	// enforced here rather than per shard so an uneven service mix cannot
	// shrink the effective buffer.
	depth     atomic.Int64
	received  atomic.Uint64
	processed atomic.Uint64
	rejected  atomic.Uint64
	accepting atomic.Bool

	// stopMu serializes shard sends against channel close: producers hold
	// the read side across the accepting check and the send, Stop closes
	// under the write side.
	stopMu sync.RWMutex

	workerCtx    context.Context
	workerCancel context.CancelFunc
	group        *errgroup.Group
	stopOnce     sync.Once
}

// NewIngestionService creates the pipeline. Call Start to begin draining.
func NewIngestionService(
	st store.Store,
	health *HealthStateManager,
	clock Clock,
	cfg *Config,
	metrics *Metrics,
	logger *slog.Logger,
) *IngestionService {
	shards := make([]chan store.TelemetrySample, cfg.IngestWorkers)
	for i := range shards {
		// Each shard can hold the full global budget; the depth counter is
		// the real bound, so sends after a successful reservation never
		// block.
		shards[i] = make(chan store.TelemetrySample, cfg.IngestQueueMax)
	}
	return &IngestionService{
		health:  health,
		store:   st,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With("component", "ingestion"),
		shards:  shards,
	}
}

// Start launches the worker pool.
func (s *IngestionService) Start() {
	s.workerCtx, s.workerCancel = context.WithCancel(context.Background())
	s.group = &errgroup.Group{}
	for i, shard := range s.shards {
		s.group.Go(func() error {
			s.runWorker(i, shard)
			return nil
		})
	}
	s.accepting.Store(true)
	s.logger.Info("Ingestion pipeline started",
		"workers", len(s.shards),
		"queue_max", s.cfg.IngestQueueMax)
}

// Stop shuts the pipeline down: new samples are refused immediately, then
// the buffer is drained best-effort within the grace period. Remaining
// items after the grace period are abandoned.
func (s *IngestionService) Stop(grace time.Duration) {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		s.accepting.Store(false)
		for _, shard := range s.shards {
			close(shard)
		}
		s.stopMu.Unlock()

		done := make(chan struct{})
		go func() {
			s.group.Wait() //nolint:errcheck // workers never return errors
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("Ingestion pipeline drained")
		case <-time.After(grace):
			s.workerCancel()
			<-done
			s.logger.Warn("Ingestion pipeline shutdown grace expired",
				"abandoned", s.depth.Load())
		}
		s.workerCancel()
	})
}

// Ingest validates one request and enqueues it for processing.
//
// Description:
//
//	Validation covers the service identifier, the timestamp tolerance
//	window, and metric sanity ranges. Enqueueing is non-blocking; a full
//	buffer returns ErrBackpressure. Every call counts toward received;
//	failures count toward rejected, so the stats identity
//	received == processed + rejected + queue_size holds.
//
// Outputs:
//
//	IngestResult - Acceptance receipt with the stamped timestamp and the
//	               post-enqueue queue depth.
//	error - ErrValidation, ErrBackpressure, or ErrShuttingDown.
func (s *IngestionService) Ingest(ctx context.Context, req TelemetryRequest) (IngestResult, error) {
	s.received.Add(1)
	if s.metrics != nil {
		s.metrics.samplesReceived.Inc()
	}

	s.stopMu.RLock()
	defer s.stopMu.RUnlock()

	if !s.accepting.Load() {
		s.reject()
		return IngestResult{}, ErrShuttingDown
	}

	sample, err := s.validate(req)
	if err != nil {
		s.reject()
		return IngestResult{}, err
	}

	// Reserve capacity before touching the shard channel.
	if s.depth.Add(1) > int64(s.cfg.IngestQueueMax) {
		s.depth.Add(-1)
		s.reject()
		return IngestResult{}, ErrBackpressure
	}
	s.shards[s.shardFor(sample.ServiceID)] <- sample

	queue := int(s.depth.Load())
	if s.metrics != nil {
		s.metrics.queueDepth.Set(float64(queue))
	}
	return IngestResult{
		Status:    "accepted",
		ServiceID: sample.ServiceID,
		Timestamp: sample.Timestamp,
		QueueSize: queue,
	}, nil
}

// validate applies the acceptance rules and stamps server time.
func (s *IngestionService) validate(req TelemetryRequest) (store.TelemetrySample, error) {
	if err := validation.ValidateServiceID(req.ServiceID); err != nil {
		return store.TelemetrySample{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	now := s.clock.NowMillis()
	ts := now
	if req.Timestamp != nil {
		ts = req.Timestamp.UnixMilli()
		skew := ts - now
		if skew < 0 {
			skew = -skew
		}
		if skew > s.cfg.TimestampTolerance().Milliseconds() {
			return store.TelemetrySample{}, fmt.Errorf(
				"%w: timestamp outside tolerance window of %dh", ErrValidation, s.cfg.TimestampToleranceHours)
		}
	}

	if req.LatencyMs < 0 || req.LatencyMs > MaxLatencyMs {
		return store.TelemetrySample{}, fmt.Errorf(
			"%w: latency_ms %.2f outside [0, %.0f]", ErrValidation, req.LatencyMs, MaxLatencyMs)
	}
	if req.PayloadKb < 0 || req.PayloadKb > MaxPayloadKb {
		return store.TelemetrySample{}, fmt.Errorf(
			"%w: payload_kb %.2f outside [0, %.0f]", ErrValidation, req.PayloadKb, MaxPayloadKb)
	}

	return store.TelemetrySample{
		ServiceID: req.ServiceID,
		Timestamp: ts,
		LatencyMs: req.LatencyMs,
		PayloadKb: req.PayloadKb,
		CreatedAt: now,
	}, nil
}

// shardFor maps a service identifier to its worker shard.
func (s *IngestionService) shardFor(serviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(serviceID)) //nolint:errcheck // fnv never fails
	return int(h.Sum32() % uint32(len(s.shards)))
}

// runWorker drains one shard until its channel closes. Processing errors
// are counted and logged; the worker never halts on them.
func (s *IngestionService) runWorker(id int, shard <-chan store.TelemetrySample) {
	logger := s.logger.With("worker", id)
	for sample := range shard {
		s.depth.Add(-1)
		if s.metrics != nil {
			s.metrics.queueDepth.Set(float64(s.depth.Load()))
		}

		start := time.Now()
		if err := s.processOne(s.workerCtx, sample); err != nil {
			s.reject()
			logger.Error("Sample processing failed",
				"service_id", sample.ServiceID,
				"error", err)
			continue
		}

		s.processed.Add(1)
		if s.metrics != nil {
			s.metrics.samplesProcessed.Inc()
			s.metrics.ObserveProcessing(time.Since(start))
		}
	}
}

// processOne persists the sample, then runs the state machine on it.
func (s *IngestionService) processOne(ctx context.Context, sample store.TelemetrySample) error {
	if err := s.store.InsertTelemetry(ctx, sample); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return s.health.ProcessTelemetry(ctx, sample)
}

// reject bumps the rejected counters.
func (s *IngestionService) reject() {
	s.rejected.Add(1)
	if s.metrics != nil {
		s.metrics.samplesRejected.Inc()
	}
}

// Stats returns the pipeline counter snapshot.
func (s *IngestionService) Stats() IngestionStats {
	received := s.received.Load()
	processed := s.processed.Load()
	denom := received
	if denom == 0 {
		denom = 1
	}
	return IngestionStats{
		Received:       received,
		Processed:      processed,
		Rejected:       s.rejected.Load(),
		QueueSize:      int(s.depth.Load()),
		ProcessingRate: float64(processed) / float64(denom),
	}
}
