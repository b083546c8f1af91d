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

import "errors"

// Sentinel errors for the drift-detection engine.
var (
	// ErrValidation indicates a rejected request: bad service_id,
	// timestamp out of tolerance, or an out-of-range metric value.
	// Surfaced to the caller; not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrBackpressure indicates the ingestion buffer is full.
	// The caller may retry with backoff.
	ErrBackpressure = errors.New("ingestion queue full")

	// ErrShuttingDown indicates the pipeline no longer accepts samples.
	ErrShuttingDown = errors.New("ingestion service shutting down")

	// ErrSimulationRunning indicates a simulation is already active for
	// the requested service.
	ErrSimulationRunning = errors.New("simulation already running for service")
)
