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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the ingestion pipeline and
// the state machine.
type Metrics struct {
	samplesReceived  prometheus.Counter
	samplesProcessed prometheus.Counter
	samplesRejected  prometheus.Counter
	queueDepth       prometheus.Gauge
	transitions      *prometheus.CounterVec
	processDuration  prometheus.Histogram
}

// NewMetrics creates and registers the instrument set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "samples_received_total",
			Help:      "Telemetry samples offered to the ingestion pipeline.",
		}),
		samplesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "samples_processed_total",
			Help:      "Telemetry samples fully processed by the engine.",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "samples_rejected_total",
			Help:      "Telemetry samples rejected by validation, backpressure, or processing failure.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftwatch",
			Name:      "ingest_queue_depth",
			Help:      "Samples currently buffered awaiting processing.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "state_transitions_total",
			Help:      "Health state transitions by previous and new state.",
		}, []string{"previous_state", "new_state"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftwatch",
			Name:      "sample_processing_seconds",
			Help:      "Wall time to persist and evaluate one sample.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	reg.MustRegister(
		m.samplesReceived,
		m.samplesProcessed,
		m.samplesRejected,
		m.queueDepth,
		m.transitions,
		m.processDuration,
	)
	return m
}

// ObserveTransition records one state transition.
func (m *Metrics) ObserveTransition(previous, next string) {
	m.transitions.WithLabelValues(previous, next).Inc()
}

// ObserveProcessing records the duration of one processed sample.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	m.processDuration.Observe(d.Seconds())
}
