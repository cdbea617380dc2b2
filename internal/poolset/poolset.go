// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package poolset is the reference-counted set of "alive" pools (spec
// §3/§4.2, PoolSet). It owns PoolEntry exclusively: the scheduler and
// GC only ever mutate entries through this package's methods.
package poolset

import (
	"sync"
	"time"

	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/metrics"
)

// Entry is an immutable snapshot of a PoolEntry, safe to hand to
// callers (BatchPlanner, Scheduler) outside PoolSet's lock.
type Entry struct {
	Key           domain.PoolKey
	DexKind       domain.DexKind
	Tier          domain.Tier
	NextRefreshAt time.Time
	LastBlockSeen uint64
	LastPrice     float64
	RefCount      int
	LastTouchedAt time.Time
	GraceDeadline *time.Time

	// GraceTTL is the grace period to use when this entry's refCount next
	// drops to zero, seeded by the ttl argument of the Touch call that
	// created or last refreshed it. Zero means "use the PoolSet's static
	// Config.GracePeriod default" (spec §4.1: ttl is advisory).
	GraceTTL time.Duration
}

type entry struct {
	Entry
}

// Config carries the tier-cadence/threshold constants of spec §6 that
// PoolSet's tiering rule (§4.2) is parameterized over.
type Config struct {
	TierRefresh    map[domain.Tier]time.Duration
	HighThreshold  float64 // >5% default
	NormalThreshold float64 // >0.1% default
	FailureRetry   time.Duration
	GracePeriod    time.Duration
}

// PoolSet is the reference-counted alive set of spec §3/§4.2.
type PoolSet struct {
	mu      sync.Mutex
	entries map[domain.PoolKey]*entry
	cfg     Config
	clock   clock.Clock
	met     *metrics.Metrics
}

// New returns an empty PoolSet.
func New(cfg Config, c clock.Clock, met *metrics.Metrics) *PoolSet {
	if met == nil {
		met = metrics.NewNop()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &PoolSet{
		entries: make(map[domain.PoolKey]*entry),
		cfg:     cfg,
		clock:   c,
		met:     met,
	}
}

// UpsertOnTouch implements spec §4.1's per-pool Touch behavior: create
// on first reference (tier=normal, nextRefreshAt=now, refCount=1), or
// increment refCount and clear any pending grace on subsequent Touches.
// ttl is stored as the entry's GraceTTL, seeding the grace period Decref
// will use once refCount next drops to zero; ttl<=0 leaves the static
// Config.GracePeriod default in effect. Returns true if a new entry was
// created.
func (p *PoolSet) UpsertOnTouch(key domain.PoolKey, dexKind domain.DexKind, ttl time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if e, ok := p.entries[key]; ok {
		e.RefCount++
		e.LastTouchedAt = now
		e.GraceDeadline = nil
		e.GraceTTL = ttl
		return false
	}

	p.entries[key] = &entry{Entry{
		Key:           key,
		DexKind:       dexKind,
		Tier:          domain.TierNormal,
		NextRefreshAt: now,
		LastBlockSeen: 0,
		LastPrice:     0,
		RefCount:      1,
		LastTouchedAt: now,
		GraceDeadline: nil,
		GraceTTL:      ttl,
	}}
	return true
}

// Decref implements spec §4.1's Release: decrement refCount (clamped at
// 0); on transition to 0, arm the grace deadline using the entry's
// GraceTTL (from the most recent Touch), falling back to the static
// Config.GracePeriod when no ttl was given. Never removes the entry —
// GC does that. Returns false if the pool isn't in the set.
func (p *PoolSet) Decref(key domain.PoolKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return false
	}
	if e.RefCount > 0 {
		e.RefCount--
		if e.RefCount == 0 {
			ttl := e.GraceTTL
			if ttl <= 0 {
				ttl = p.cfg.GracePeriod
			}
			deadline := p.clock.Now().Add(ttl)
			e.GraceDeadline = &deadline
		}
	}
	return true
}

// DueBefore returns a snapshot of every entry whose NextRefreshAt is at
// or before now (spec §4.5 step 1).
func (p *PoolSet) DueBefore(now time.Time) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []Entry
	for _, e := range p.entries {
		if !e.NextRefreshAt.After(now) {
			due = append(due, e.Entry)
		}
	}
	return due
}

// NextDue returns the earliest NextRefreshAt among all entries, used by
// the scheduler to compute its idle-sleep deadline (spec §4.5 step 1).
func (p *PoolSet) NextDue() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		earliest time.Time
		found    bool
	)
	for _, e := range p.entries {
		if !found || e.NextRefreshAt.Before(earliest) {
			earliest = e.NextRefreshAt
			found = true
		}
	}
	return earliest, found
}

// UpdateSuccess implements the tiering rule of spec §4.2 after a
// successful refresh: classify by |Δprice|/lastPrice, advance
// NextRefreshAt by the resulting tier's cadence, and record the new
// blockNumber/price. Returns the newly assigned tier.
func (p *PoolSet) UpdateSuccess(key domain.PoolKey, blockNumber uint64, price float64) (domain.Tier, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return domain.TierLow, false
	}

	tier := classify(e.LastPrice, price, p.cfg)
	e.Tier = tier
	e.LastBlockSeen = blockNumber
	e.LastPrice = price
	e.NextRefreshAt = p.clock.Now().Add(p.cfg.TierRefresh[tier])
	return tier, true
}

// classify implements the §4.2 thresholds, including the "first
// observation" special case (lastPrice == 0 => normal).
func classify(oldPrice, newPrice float64, cfg Config) domain.Tier {
	if oldPrice == 0 {
		return domain.TierNormal
	}
	delta := newPrice - oldPrice
	if delta < 0 {
		delta = -delta
	}
	frac := delta / oldPrice
	switch {
	case frac > cfg.HighThreshold:
		return domain.TierHigh
	case frac > cfg.NormalThreshold:
		return domain.TierNormal
	default:
		return domain.TierLow
	}
}

// UpdateFailure implements spec §4.2's failure rule: reschedule
// NextRefreshAt = now + FailureRetry without changing tier.
func (p *PoolSet) UpdateFailure(key domain.PoolKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return false
	}
	e.NextRefreshAt = p.clock.Now().Add(p.cfg.FailureRetry)
	return true
}

// Remove deletes key outright. Only GC should call this, after
// confirming refCount==0 and the grace deadline has passed (spec §4.7).
func (p *PoolSet) Remove(key domain.PoolKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

// Get returns a snapshot of key's entry, if present.
func (p *PoolSet) Get(key domain.PoolKey) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// Stats is the aggregate snapshot backing the façade's Stats() call
// (spec §6).
type Stats struct {
	AlivePools int
	ByTier     map[domain.Tier]int
}

func (p *PoolSet) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{ByTier: map[domain.Tier]int{domain.TierHigh: 0, domain.TierNormal: 0, domain.TierLow: 0}}
	st.AlivePools = len(p.entries)
	for _, e := range p.entries {
		st.ByTier[e.Tier]++
	}
	return st
}

// GCCandidates returns every entry eligible for removal: refCount==0
// and now >= graceDeadline (spec §4.7).
func (p *PoolSet) GCCandidates(now time.Time) []domain.PoolKey {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.PoolKey
	for key, e := range p.entries {
		if e.RefCount == 0 && e.GraceDeadline != nil && !now.Before(*e.GraceDeadline) {
			out = append(out, key)
		}
	}
	return out
}
