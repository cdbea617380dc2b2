// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package statestore is the authoritative in-memory snapshot of each
// pool's last observed on-chain state (spec §3/§4, StateStore). Reads
// are thread-safe and lock-free on the fastcache fast path; writes are
// serialized through a single mutex so the blockNumber-monotonic
// compare-and-swap required by spec §3/§8 ("Monotone block") is atomic.
//
// The backing store is github.com/VictoriaMetrics/fastcache, the same
// byte-keyed cache the teacher wraps in utils/metered_cache.go — here
// applied to the pricing hot path itself rather than to trie nodes.
package statestore

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/metrics"
)

const defaultCacheBytes = 32 * 1024 * 1024 // 32MiB: ample for a few thousand pools

// Store is the StateStore of spec §3/§4.
type Store struct {
	mu    sync.Mutex // guards the decode-compare-encode-set sequence of Put
	cache *fastcache.Cache
	met   *metrics.Metrics
}

// New returns a Store with its own fastcache instance sized for
// maxBytes; pass 0 to use the default 32MiB sizing.
func New(maxBytes int, met *metrics.Metrics) *Store {
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	if met == nil {
		met = metrics.NewNop()
	}
	return &Store{
		cache: fastcache.New(maxBytes),
		met:   met,
	}
}

func keyFor(key domain.PoolKey) []byte {
	return []byte(string(key.Chain) + "|" + string(key.Address))
}

// Get returns the cached state for key, or false if nothing is cached.
func (s *Store) Get(key domain.PoolKey) (PoolState, bool) {
	raw := s.cache.Get(nil, keyFor(key))
	if raw == nil {
		s.met.AddCounter(s.met.CacheMissTotal, 1)
		return PoolState{}, false
	}
	st, err := decode(raw)
	if err != nil {
		s.met.AddCounter(s.met.CacheMissTotal, 1)
		return PoolState{}, false
	}
	s.met.AddCounter(s.met.CacheHitTotal, 1)
	return st, true
}

// LastBlock returns the blockNumber of the cached state for key, if any.
func (s *Store) LastBlock(key domain.PoolKey) (uint64, bool) {
	st, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return st.BlockNumber, true
}

// Put installs state for key if state.BlockNumber >= the currently
// stored blockNumber (spec §3: "writes with smaller block are
// discarded"). Returns true if the write was installed, false if it
// was discarded as stale.
func (s *Store) Put(key domain.PoolKey, state PoolState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyFor(key)
	if raw := s.cache.Get(nil, k); raw != nil {
		if existing, err := decode(raw); err == nil && state.BlockNumber < existing.BlockNumber {
			return false
		}
	}
	s.cache.Set(k, encode(state))
	return true
}

// Delete evicts key's cached state, used by GC (spec §4.7) once a
// pool's PoolEntry has been removed and its grace TTL has elapsed.
func (s *Store) Delete(key domain.PoolKey) {
	s.cache.Del(keyFor(key))
}

// Has reports whether key currently has cached state, without the
// decode/allocation cost of Get.
func (s *Store) Has(key domain.PoolKey) bool {
	return s.cache.Has(keyFor(key))
}

// Reset clears every cached pool state. Used in tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Reset()
}
