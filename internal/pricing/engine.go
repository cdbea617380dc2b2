// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pricing is the PricingEngine of spec §3/§4.6: a recursive,
// cycle-safe walk from a token to a USD value through the first
// available chain of pools, preferring stablecoin bases, then the
// chain's wrapped native, then whatever else routes to it.
package pricing

import (
	"time"

	"github.com/hashicorp/golang-lru"

	"github.com/luxfi/pricewatch/internal/ammmath"
	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/statestore"
)

const defaultStickyRouteCacheSize = 4096

// route is the memoized base symbol that worked last time for a given
// (chain, token), tried first on the next call before falling back to
// the full tiered search (spec §6, "sticky route"). Only baseSymbol is
// filled in; pool is left empty, so the pools listed for that base are
// tried again in list order.
type route struct {
	baseSymbol string
	pool       domain.Address
}

// Engine is the PricingEngine. It never mutates Registry or StateStore;
// both are read through their own thread-safe accessors.
type Engine struct {
	registry *registry.Store
	store    *statestore.Store
	sticky   *lru.Cache // key: domain.PoolKey (chain/token) -> route
	clock    clock.Clock
	stateTTL time.Duration // 0 disables the staleness check
}

// New returns an Engine backed by reg and store, with a bounded
// sticky-route cache sized per spec §6. stateTTL of 0 disables the
// staleness check (every cached state is treated as current).
func New(reg *registry.Store, store *statestore.Store, opts ...Option) *Engine {
	cache, err := lru.New(defaultStickyRouteCacheSize)
	if err != nil {
		// lru.New only errors on size <= 0, which defaultStickyRouteCacheSize never is.
		panic(err)
	}
	e := &Engine{registry: reg, store: store, sticky: cache, clock: clock.Real{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithStateTTL rejects (as NotReady) any cached pool state older than
// ttl, per spec §6's StateTTL. The scheduler's refresh cadence keeps
// live pools well inside this window; it only fires for pools the
// scheduler has stopped refreshing.
func WithStateTTL(clk clock.Clock, ttl time.Duration) Option {
	return func(e *Engine) {
		e.clock = clk
		e.stateTTL = ttl
	}
}

// Price resolves token's USD spot price on chain (spec §4.6).
func (e *Engine) Price(chain domain.Chain, token domain.Address) domain.PriceResult {
	reg, ok := e.registry.Chain(chain)
	if !ok {
		return domain.PriceResult{Status: domain.PriceNoRoute}
	}
	return e.price(reg, token, make(map[domain.Address]bool))
}

func (e *Engine) price(reg *domain.ChainRegistry, token domain.Address, visiting map[domain.Address]bool) domain.PriceResult {
	if reg.Stablecoins.Contains(token) {
		return domain.PriceResult{Status: domain.PriceOK, UsdPrice: 1.0}
	}
	if visiting[token] {
		return domain.PriceResult{Status: domain.PriceNoRoute}
	}
	visiting[token] = true
	defer delete(visiting, token)

	routes, ok := reg.Routes[token]
	if !ok || len(routes) == 0 {
		return domain.PriceResult{Status: domain.PriceNoRoute}
	}

	key := domain.PoolKey{Chain: reg.Chain, Address: token}
	if r, ok := e.stickyLookup(key); ok {
		if res, ok := e.tryRoute(reg, token, r.baseSymbol, visiting); ok {
			return res
		}
	}

	sawCandidate := false
	for _, symbol := range orderedBySymbolTier(reg) {
		if _, exists := routes[symbol]; !exists {
			continue
		}
		sawCandidate = true
		if res, ok := e.tryRoute(reg, token, symbol, visiting); ok {
			e.sticky.Add(key, route{baseSymbol: symbol})
			return res
		}
	}

	if sawCandidate {
		return domain.PriceResult{Status: domain.PriceNotReady}
	}
	return domain.PriceResult{Status: domain.PriceNoRoute}
}

// tryRoute attempts every pool listed for (token, baseSymbol) in order,
// returning the first that has cached state and a priced base.
func (e *Engine) tryRoute(reg *domain.ChainRegistry, token domain.Address, baseSymbol string, visiting map[domain.Address]bool) (domain.PriceResult, bool) {
	baseAddr, ok := symbolToAddress(reg, baseSymbol)
	if !ok {
		return domain.PriceResult{}, false
	}

	for _, poolAddr := range reg.Routes[token][baseSymbol] {
		pool, ok := reg.Pools[poolAddr]
		if !ok {
			continue
		}
		poolKey := domain.PoolKey{Chain: reg.Chain, Address: poolAddr}
		state, ok := e.store.Get(poolKey)
		if !ok {
			continue
		}
		if e.stateTTL > 0 && e.clock.Now().Sub(state.ObservedAt) > e.stateTTL {
			continue
		}

		baseResult := e.price(reg, baseAddr, visiting)
		if baseResult.Status != domain.PriceOK {
			continue
		}

		usd, ok := priceFromPool(pool, state, token, baseResult.UsdPrice)
		if !ok {
			continue
		}
		return domain.PriceResult{Status: domain.PriceOK, UsdPrice: usd}, true
	}
	return domain.PriceResult{}, false
}

// priceFromPool converts a pool's decimal-adjusted token1-per-token0
// local price into token's USD price, given the base token's own USD
// price. local is "how many (human-unit) token1 one (human-unit)
// token0 is worth", so token0's USD value is local*baseUsd when the
// base is token1, and token1's USD value is baseUsd/local when the
// base is token0 (spec §4.6 steps 6-8).
func priceFromPool(pool domain.Pool, state statestore.PoolState, token domain.Address, baseUsd float64) (float64, bool) {
	local := localPrice(state, pool.Decimals0, pool.Decimals1)
	if local == 0 {
		return 0, false
	}
	switch token {
	case pool.Token0:
		return local * baseUsd, true
	case pool.Token1:
		return baseUsd / local, true
	default:
		return 0, false
	}
}

func localPrice(state statestore.PoolState, dec0, dec1 uint8) float64 {
	if state.DexKind == domain.DexV3 {
		return ammmath.V3Price(state.SqrtPriceX96, dec0, dec1)
	}
	return ammmath.V2Price(state.Reserve0, state.Reserve1, dec0, dec1)
}

func (e *Engine) stickyLookup(key domain.PoolKey) (route, bool) {
	v, ok := e.sticky.Get(key)
	if !ok {
		return route{}, false
	}
	r, ok := v.(route)
	return r, ok
}

func symbolToAddress(reg *domain.ChainRegistry, symbol string) (domain.Address, bool) {
	for addr, s := range reg.SymbolOf {
		if s == symbol {
			return addr, true
		}
	}
	return "", false
}

// orderedBySymbolTier ranks a registry's known base symbols: stablecoin
// bases first, then the chain's wrapped native, then everything else in
// the order SymbolOf happens to enumerate (spec §4.6's 3-tier rule).
func orderedBySymbolTier(reg *domain.ChainRegistry) []string {
	var stable, native, rest []string
	seen := make(map[string]bool)
	for addr, symbol := range reg.SymbolOf {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		switch {
		case reg.Stablecoins.Contains(addr):
			stable = append(stable, symbol)
		case addr == reg.WrappedNative:
			native = append(native, symbol)
		default:
			rest = append(rest, symbol)
		}
	}
	out := make([]string, 0, len(stable)+len(native)+len(rest))
	out = append(out, stable...)
	out = append(out, native...)
	out = append(out, rest...)
	return out
}
