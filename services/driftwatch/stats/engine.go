// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package stats implements the statistical kernel for drift detection.

Everything in this package is a pure function over sample or z-score
slices: baseline summaries (mean, sample standard deviation, percentiles),
z-score computation, and the drift and recovery predicates. No I/O, no
shared state, safe for concurrent use by construction.

# Design Rationale

Drift detection is intentionally a single fixed model: univariate z-score
over latency with two trigger rules and one recovery rule. Keeping the
kernel free of storage and clock concerns means the detection math can be
verified against small fixtures to tight tolerances, independent of the
pipeline around it.

Z-score slices are always ordered newest-first. That matches how the store
returns history (most recent N, descending by creation time) and lets the
consecutive-anomaly rule read as a prefix scan.
*/
package stats

import (
	"errors"
	"math"
	"sort"
)

// Default detection parameters. The service config can override all of
// these; the values mirror the zero-configuration production defaults.
const (
	// DefaultMinSamplesForBaseline is the floor for producing a baseline.
	DefaultMinSamplesForBaseline = 100

	// DefaultZScoreThreshold is the severe anomaly cutoff.
	DefaultZScoreThreshold = 3.0

	// DefaultConsecutiveThreshold is the run length for Rule A.
	DefaultConsecutiveThreshold = 5

	// DefaultModerateZScoreThreshold is the moderate anomaly cutoff (Rule B).
	DefaultModerateZScoreThreshold = 2.5

	// DefaultModerateCount is how many moderate anomalies trigger Rule B.
	DefaultModerateCount = 10

	// DefaultModerateWindow is the window Rule B inspects.
	DefaultModerateWindow = 20

	// DefaultRecoveryConsecutiveNormal is the run of normal samples
	// required to leave DRIFT_DETECTED.
	DefaultRecoveryConsecutiveNormal = 50

	// recoveryNormalZScore is the |z| bound a sample must satisfy to count
	// as normal during recovery. Deliberately below the 3.0 detection
	// threshold: the asymmetric band is hysteresis against flapping.
	recoveryNormalZScore = 2.0
)

// ErrInsufficientSamples indicates fewer samples than the baseline floor.
var ErrInsufficientSamples = errors.New("insufficient samples for baseline")

// Reason values attached to drift metadata.
const (
	ReasonConsecutiveSevere = "consecutive_severe_anomalies"
	ReasonModerateInWindow  = "moderate_anomalies_in_window"
	ReasonInsufficient      = "insufficient_samples"
	ReasonNoDrift           = "no_drift"
	ReasonNoBaseline        = "no_baseline"
)

// Baseline is the statistical summary of one metric's recent samples.
type Baseline struct {
	// Mean is the arithmetic mean.
	Mean float64 `json:"mean"`

	// StdDev is the sample standard deviation (Bessel-corrected, n-1).
	StdDev float64 `json:"stddev"`

	// P50, P95, P99 are percentiles by linear interpolation over the
	// sorted samples.
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`

	// SampleCount is how many samples produced this summary.
	SampleCount int `json:"sample_count"`
}

// DriftRules holds the thresholds for the two detection rules.
type DriftRules struct {
	// ZScoreThreshold is the severe anomaly cutoff (Rule A).
	ZScoreThreshold float64

	// ConsecutiveThreshold is the Rule A run length.
	ConsecutiveThreshold int

	// ModerateZScoreThreshold is the Rule B cutoff.
	ModerateZScoreThreshold float64

	// ModerateCount is the Rule B trigger count.
	ModerateCount int

	// ModerateWindow is the Rule B window size.
	ModerateWindow int
}

// DefaultDriftRules returns the production detection thresholds.
func DefaultDriftRules() DriftRules {
	return DriftRules{
		ZScoreThreshold:         DefaultZScoreThreshold,
		ConsecutiveThreshold:    DefaultConsecutiveThreshold,
		ModerateZScoreThreshold: DefaultModerateZScoreThreshold,
		ModerateCount:           DefaultModerateCount,
		ModerateWindow:          DefaultModerateWindow,
	}
}

// DriftMeta describes why DetectDrift reached its verdict.
//
// It is a tagged variant: Reason selects which of the optional fields are
// meaningful. The zero values of unused fields are omitted from JSON so
// the persisted audit blob only carries the shape for its reason.
type DriftMeta struct {
	// Reason is one of the Reason* constants.
	Reason string `json:"reason"`

	// SampleCount is set for insufficient_samples.
	SampleCount int `json:"sample_count,omitempty"`

	// ConsecutiveCount is the severe-anomaly prefix length.
	ConsecutiveCount int `json:"consecutive_count,omitempty"`

	// Threshold is the cutoff of the rule that fired.
	Threshold float64 `json:"threshold,omitempty"`

	// MaxZScore is the largest |z| in the Rule A prefix.
	MaxZScore float64 `json:"max_zscore,omitempty"`

	// ModerateCount is how many window samples exceeded the moderate cutoff.
	ModerateCount int `json:"moderate_count,omitempty"`

	// WindowSize is the Rule B window that was inspected.
	WindowSize int `json:"window_size,omitempty"`

	// RecentAnomalies counts severe anomalies in the last 10 samples,
	// reported on the no_drift verdict for diagnostics.
	RecentAnomalies int `json:"recent_anomalies,omitempty"`

	// CurrentLatencyZScore and CurrentPayloadZScore are filled in by the
	// drift detector for the sample that triggered evaluation.
	CurrentLatencyZScore float64 `json:"current_latency_zscore,omitempty"`
	CurrentPayloadZScore float64 `json:"current_payload_zscore,omitempty"`
}

// ComputeBaseline calculates the baseline summary for a sample slice.
//
// Description:
//
//	Computes mean, sample standard deviation (divisor n-1), and the
//	p50/p95/p99 percentiles by linear interpolation over the sorted
//	samples. Fails if fewer than minSamples are provided.
//
// Inputs:
//
//	samples - Raw measurements; order does not matter.
//	minSamples - Floor below which no baseline is produced.
//
// Outputs:
//
//	Baseline - The summary.
//	error - ErrInsufficientSamples when len(samples) < minSamples.
func ComputeBaseline(samples []float64, minSamples int) (Baseline, error) {
	if len(samples) < minSamples {
		return Baseline{}, ErrInsufficientSamples
	}

	n := len(samples)

	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(n)

	// Sample variance with Bessel's correction. A single sample would
	// divide by zero, but minSamples is always >= 2 in practice; guard
	// anyway so the kernel never returns NaN.
	stddev := 0.0
	if n > 1 {
		ss := 0.0
		for _, v := range samples {
			d := v - mean
			ss += d * d
		}
		stddev = math.Sqrt(ss / float64(n-1))
	}

	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	return Baseline{
		Mean:        mean,
		StdDev:      stddev,
		P50:         Percentile(sorted, 50),
		P95:         Percentile(sorted, 95),
		P99:         Percentile(sorted, 99),
		SampleCount: n,
	}, nil
}

// Percentile returns the p-th percentile of an ascending-sorted slice
// using linear interpolation between closest ranks.
//
// The convention matches the common numerical-library default: the rank
// is p/100 * (n-1); fractional ranks interpolate between the two
// surrounding elements.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower < 0 {
		lower = 0
	}
	if upper >= n {
		upper = n - 1
	}
	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// ZScore returns the dimensionless deviation (x - mean) / stddev.
//
// Returns 0.0 when stddev is zero: a degenerate baseline means every
// observed value was identical, and any deviation is handled by the next
// baseline recalculation rather than by dividing by zero.
func ZScore(x, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0.0
	}
	return (x - mean) / stddev
}

// IsAnomaly reports whether a z-score exceeds the severe threshold.
func IsAnomaly(z, threshold float64) bool {
	return math.Abs(z) > threshold
}

// DetectDrift evaluates the two drift rules over a newest-first z-score
// history.
//
// Description:
//
//	Rule A (consecutive severe): the prefix of zscores with |z| above
//	the severe threshold has length >= ConsecutiveThreshold. Rule B
//	(moderate in window): at least ModerateCount of the first
//	ModerateWindow entries exceed the moderate threshold. Rule A is
//	evaluated first and wins ties.
//
// Inputs:
//
//	zscores - Z-score history ordered newest-first.
//	rules - Detection thresholds.
//
// Outputs:
//
//	bool - True when either rule fires.
//	DriftMeta - The rule that fired and its supporting counts, or a
//	diagnostic no_drift / insufficient_samples verdict.
func DetectDrift(zscores []float64, rules DriftRules) (bool, DriftMeta) {
	if len(zscores) < rules.ConsecutiveThreshold {
		return false, DriftMeta{
			Reason:      ReasonInsufficient,
			SampleCount: len(zscores),
		}
	}

	// Rule A: longest severe prefix within the first ConsecutiveThreshold
	// entries.
	consecutive := 0
	maxZ := 0.0
	for _, z := range zscores[:rules.ConsecutiveThreshold] {
		if !IsAnomaly(z, rules.ZScoreThreshold) {
			break
		}
		consecutive++
		if abs := math.Abs(z); abs > maxZ {
			maxZ = abs
		}
	}
	if consecutive >= rules.ConsecutiveThreshold {
		return true, DriftMeta{
			Reason:           ReasonConsecutiveSevere,
			ConsecutiveCount: consecutive,
			Threshold:        rules.ZScoreThreshold,
			MaxZScore:        maxZ,
		}
	}

	// Rule B: moderate anomalies within the inspection window.
	if len(zscores) >= rules.ModerateWindow {
		moderate := 0
		for _, z := range zscores[:rules.ModerateWindow] {
			if IsAnomaly(z, rules.ModerateZScoreThreshold) {
				moderate++
			}
		}
		if moderate >= rules.ModerateCount {
			return true, DriftMeta{
				Reason:        ReasonModerateInWindow,
				ModerateCount: moderate,
				WindowSize:    rules.ModerateWindow,
				Threshold:     rules.ModerateZScoreThreshold,
			}
		}
	}

	recent := 0
	limit := len(zscores)
	if limit > 10 {
		limit = 10
	}
	for _, z := range zscores[:limit] {
		if IsAnomaly(z, rules.ZScoreThreshold) {
			recent++
		}
	}

	return false, DriftMeta{
		Reason:           ReasonNoDrift,
		ConsecutiveCount: consecutive,
		RecentAnomalies:  recent,
	}
}

// IsRecovered reports whether a drifted service has returned to normal.
//
// Recovery requires the first required entries of the newest-first
// history to all satisfy |z| <= 2.0. Shorter histories never qualify.
func IsRecovered(zscores []float64, required int) bool {
	if len(zscores) < required {
		return false
	}
	for _, z := range zscores[:required] {
		if math.Abs(z) > recoveryNormalZScore {
			return false
		}
	}
	return true
}
