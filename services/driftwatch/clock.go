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
	"sync/atomic"
	"time"
)

// Clock supplies wall time in milliseconds since the Unix epoch.
//
// A single injected clock is used for both timestamp-tolerance validation
// and created_at stamping, which keeps the tolerance window testable.
type Clock interface {
	// NowMillis returns the current wall time in epoch milliseconds.
	NowMillis() int64
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// NowMillis returns time.Now() in epoch milliseconds.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ManualClock is a settable clock for tests.
//
// # Thread Safety
//
// Safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock set to the given epoch millis.
func NewManualClock(ms int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(ms)
	return c
}

// NowMillis returns the configured time.
func (c *ManualClock) NowMillis() int64 {
	return c.now.Load()
}

// Set replaces the configured time.
func (c *ManualClock) Set(ms int64) {
	c.now.Store(ms)
}

// Advance moves the configured time forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(d.Milliseconds())
}
