// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package interest is the InterestAPI façade of spec §3/§4.1: the only
// entry point callers use to express "I need these tokens priced on
// chain C" (Touch), release that need (Release), and read the current
// best price (Price). It flattens a token set's routes into the union
// of pools that must stay alive to resolve them, deduped with
// deckarep/golang-set/v2 the same way the rest of the engine dedups
// pool/chain sets.
package interest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/singleflight"

	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/pricing"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/scheduler"
)

// Poker is the subset of *scheduler.Scheduler the façade depends on: a
// way to wake the collection loop early after a fresh Touch, a way to
// know the engine has completed at least one flush, and a way to read
// its current load for Stats(). Depending on this narrow interface
// instead of *scheduler.Scheduler keeps this package's tests free of
// the scheduler's goroutine machinery.
type Poker interface {
	Poke()
	WaitForFirstRun(ctx context.Context) error
	Stats() scheduler.Stats
}

// API is the InterestAPI façade.
type API struct {
	registry *registry.Store
	pools    *poolset.PoolSet
	pricing  *pricing.Engine
	sched    Poker

	// sf coalesces the pure route-flattening walk (same chain, same
	// token set) across concurrent Touch calls. It must never wrap the
	// refCount side effects below it: each caller's UpsertOnTouch must
	// still run once per call, or #Touch/#Release stop balancing.
	sf singleflight.Group
}

// New returns an API wired to the shared Registry/PoolSet/Engine and
// the scheduler that actually performs refreshes.
func New(reg *registry.Store, pools *poolset.PoolSet, engine *pricing.Engine, sched Poker) *API {
	return &API{registry: reg, pools: pools, pricing: engine, sched: sched}
}

// Touch registers interest in every token in tokens on chain: every
// pool on every known route to each token (transitively, through its
// bases) gets its refCount incremented, creating PoolSet entries for
// any pool seen for the first time. ttl seeds the grace period used
// once a pool's refCount next drops to zero (spec §4.1); ttl<=0 keeps
// the PoolSet's static default. Returns the number of PoolSet entries
// this call created (re-touching an existing entry, even one at
// refCount 0, is not counted) and an error only for an unknown chain.
func (a *API) Touch(chain domain.Chain, tokens mapset.Set[domain.Address], ttl time.Duration) (int, error) {
	reg, ok := a.registry.Chain(chain)
	if !ok {
		return 0, fmt.Errorf("interest: unknown chain %q", chain)
	}

	keys := a.flattenRouteSet(chain, reg, tokens)
	registered := 0
	for _, key := range keys.ToSlice() {
		pool, ok := reg.Pools[key.Address]
		if !ok {
			continue
		}
		if a.pools.UpsertOnTouch(key, pool.DexKind, ttl) {
			registered++
		}
	}
	if registered > 0 {
		a.sched.Poke()
	}
	return registered, nil
}

// Release reverses one Touch: every pool on every token in tokens'
// routes has its refCount decremented, arming the grace-period GC
// deadline for any that reach zero (spec §4.1/§4.7). Returns the
// number of pools that actually transitioned to refCount==0.
func (a *API) Release(chain domain.Chain, tokens mapset.Set[domain.Address]) (int, error) {
	reg, ok := a.registry.Chain(chain)
	if !ok {
		return 0, fmt.Errorf("interest: unknown chain %q", chain)
	}

	keys := a.flattenRouteSet(chain, reg, tokens)
	released := 0
	for _, key := range keys.ToSlice() {
		before, ok := a.pools.Get(key)
		if !ok || before.RefCount == 0 {
			continue
		}
		if a.pools.Decref(key) {
			if e, ok := a.pools.Get(key); ok && e.RefCount == 0 {
				released++
			}
		}
	}
	return released, nil
}

// Price returns token's current USD price on chain (spec §4.6). It
// never blocks on a refresh: a pool with no cached state yet simply
// yields NotReady.
func (a *API) Price(chain domain.Chain, token domain.Address) domain.PriceResult {
	return a.pricing.Price(chain, token)
}

// WaitForFirstRun blocks until the engine has completed at least one
// refresh cycle, so callers calling Touch immediately after startup
// don't see a spurious NotReady (spec §7's Ready gate).
func (a *API) WaitForFirstRun(ctx context.Context) error {
	return a.sched.WaitForFirstRun(ctx)
}

// Stats is the façade's aggregate snapshot (spec §6 Stats()).
type Stats struct {
	Pools            poolset.Stats
	PendingBatchSize int
	LastBatchMs      int64
}

func (a *API) Stats() Stats {
	schedStats := a.sched.Stats()
	return Stats{
		Pools:            a.pools.Stats(),
		PendingBatchSize: schedStats.PendingBatchSize,
		LastBatchMs:      schedStats.LastBatchMs,
	}
}

// flattenRouteSet walks the routes of every token in tokens into one
// set of pool keys, with the pure computation coalesced across concurrent calls sharing
// the same (chain, tokens) key via singleflight. The side-effecting
// loop over the resulting keys still runs unconditionally in the
// caller, once per Touch/Release call.
func (a *API) flattenRouteSet(chain domain.Chain, reg *domain.ChainRegistry, tokens mapset.Set[domain.Address]) mapset.Set[domain.PoolKey] {
	sfKey := routeSetKey(chain, tokens)
	v, _, _ := a.sf.Do(sfKey, func() (interface{}, error) {
		out := mapset.NewSet[domain.PoolKey]()
		visited := make(map[domain.Address]bool)
		for _, token := range tokens.ToSlice() {
			walk(reg, token, visited, out)
		}
		return out, nil
	})
	return v.(mapset.Set[domain.PoolKey])
}

// routeSetKey builds a deterministic singleflight key from chain and an
// unordered token set, so two Touch calls naming the same tokens in a
// different order still collapse onto the same in-flight computation.
func routeSetKey(chain domain.Chain, tokens mapset.Set[domain.Address]) string {
	addrs := make([]string, 0, tokens.Cardinality())
	for _, a := range tokens.ToSlice() {
		addrs = append(addrs, string(a))
	}
	sort.Strings(addrs)
	return string(chain) + "|" + strings.Join(addrs, ",")
}

// walk traverses every pool reachable from token (through all of its
// listed bases, recursively, cycle-guarded), adding each to out.
// Stablecoins terminate the walk: they carry a fixed USD price and
// need no pool of their own.
func walk(reg *domain.ChainRegistry, token domain.Address, visited map[domain.Address]bool, out mapset.Set[domain.PoolKey]) {
	if visited[token] || reg.Stablecoins.Contains(token) {
		return
	}
	visited[token] = true

	for _, pools := range reg.Routes[token] {
		for _, poolAddr := range pools {
			pool, ok := reg.Pools[poolAddr]
			if !ok {
				continue
			}
			out.Add(domain.PoolKey{Chain: reg.Chain, Address: poolAddr})

			other := pool.Token0
			if other == token {
				other = pool.Token1
			}
			walk(reg, other, visited, out)
		}
	}
}
