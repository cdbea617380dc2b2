// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry holds the atomically-swappable Registry snapshot
// consumed (read-only) by the hot-path engine. Discovery — out of
// scope here — calls Swap whenever it republishes topology; every
// other component calls Chain once per operation and works off that
// pointer for the duration, per spec §5's "readers hold a snapshot for
// the duration of one operation."
package registry

import (
	"sync/atomic"

	"github.com/luxfi/pricewatch/internal/domain"
)

// Store holds one *domain.ChainRegistry per chain, swapped atomically.
type Store struct {
	snap atomic.Pointer[map[domain.Chain]*domain.ChainRegistry]
}

// NewStore returns a Store seeded with empty registries for the given
// chains, so early Touch/Price calls see "no route" rather than panics
// before discovery ever runs.
func NewStore(chains []domain.Chain) *Store {
	s := &Store{}
	m := make(map[domain.Chain]*domain.ChainRegistry, len(chains))
	for _, c := range chains {
		m[c] = domain.NewChainRegistry(c)
	}
	s.snap.Store(&m)
	return s
}

// Swap atomically replaces the whole multi-chain snapshot. Per-chain
// registries already handed out via Chain() remain valid and unchanged;
// this only affects the *next* Chain() call.
func (s *Store) Swap(m map[domain.Chain]*domain.ChainRegistry) {
	cp := make(map[domain.Chain]*domain.ChainRegistry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.snap.Store(&cp)
}

// SwapChain atomically replaces a single chain's registry, leaving the
// others untouched — the common case when one chain's discovery loop
// finishes a topology pass.
func (s *Store) SwapChain(chain domain.Chain, reg *domain.ChainRegistry) {
	for {
		old := s.snap.Load()
		cp := make(map[domain.Chain]*domain.ChainRegistry, len(*old)+1)
		for k, v := range *old {
			cp[k] = v
		}
		cp[chain] = reg
		if s.snap.CompareAndSwap(old, &cp) {
			return
		}
	}
}

// Chain returns the current snapshot for chain, or false if the chain
// was never registered (spec §7's UnknownChain is caught at config
// validation time, so this should only return false for a programming
// error, never live traffic).
func (s *Store) Chain(chain domain.Chain) (*domain.ChainRegistry, bool) {
	m := s.snap.Load()
	if m == nil {
		return nil, false
	}
	reg, ok := (*m)[chain]
	return reg, ok
}

// Chains returns every chain currently registered.
func (s *Store) Chains() []domain.Chain {
	m := s.snap.Load()
	if m == nil {
		return nil
	}
	out := make([]domain.Chain, 0, len(*m))
	for c := range *m {
		out = append(out, c)
	}
	return out
}
