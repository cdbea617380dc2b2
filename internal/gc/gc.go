// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gc runs the grace-period sweeper of spec §4.7: every
// GCInterval it removes PoolSet entries whose refCount has sat at zero
// past their grace deadline, and evicts their cached state so a later
// Touch starts clean rather than resurrecting stale on-chain data.
package gc

import (
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/statestore"
	"github.com/luxfi/pricewatch/metrics"
)

// Config carries the spec §6 GC tunables.
type Config struct {
	Interval time.Duration
}

// Deps are the components the sweeper reads from and mutates.
type Deps struct {
	Pools   *poolset.PoolSet
	Store   *statestore.Store
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Sweeper is the GC of spec §4.7.
type Sweeper struct {
	deps Deps
	cfg  Config
	log  log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Sweeper ready for Start.
func New(deps Deps, cfg Config) *Sweeper {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Sweeper{
		deps:   deps,
		cfg:    cfg,
		log:    log.Root(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweeper's background ticker loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one GC pass immediately; exported so tests (and a manual
// admin trigger) don't need to wait out a full Interval.
func (s *Sweeper) Sweep() int {
	now := s.deps.Clock.Now()
	candidates := s.deps.Pools.GCCandidates(now)
	for _, key := range candidates {
		s.deps.Pools.Remove(key)
		s.deps.Store.Delete(key)
		s.deps.Metrics.AddCounter(s.deps.Metrics.GCRemovedTotal, 1)
		s.log.Debug("gc removed pool", "key", key.String())
	}
	return len(candidates)
}
