// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock generalizes utils.MockableClock (luxfi-evm) into a
// small Clock interface so PoolSet/Scheduler/GC's time math (§4.2, §4.5,
// §4.7 — nextRefreshAt, graceDeadline, tier cadence) is deterministically
// testable without sleeping in real time.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source every tier/grace/GC computation reads from.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Mock is a settable Clock for tests, mirroring utils.MockableClock's
// Set/Advance API.
type Mock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMock returns a Mock pinned at t. Tests that don't care about an
// absolute time can pass time.Now().
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (c *Mock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Mock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
