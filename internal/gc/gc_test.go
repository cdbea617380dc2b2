// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/statestore"
)

func TestSweep_RemovesOnlyPastGraceDeadline(t *testing.T) {
	mc := clock.NewMock(time.Unix(0, 0))
	pools := poolset.New(poolset.Config{
		TierRefresh:     map[domain.Tier]time.Duration{domain.TierHigh: time.Second, domain.TierNormal: time.Second, domain.TierLow: time.Second},
		HighThreshold:   0.05,
		NormalThreshold: 0.001,
		FailureRetry:    time.Second,
		GracePeriod:     10 * time.Second,
	}, mc, nil)
	store := statestore.New(0, nil)

	chain := domain.Chain("base")
	fresh := domain.PoolKey{Chain: chain, Address: domain.Address("0xfresh")}
	expired := domain.PoolKey{Chain: chain, Address: domain.Address("0xexpired")}

	pools.UpsertOnTouch(fresh, domain.DexV2, 0)
	pools.UpsertOnTouch(expired, domain.DexV2, 0)
	pools.Decref(fresh)
	pools.Decref(expired)
	store.Put(fresh, statestore.PoolState{BlockNumber: 1})
	store.Put(expired, statestore.PoolState{BlockNumber: 1})

	sweeper := New(Deps{Pools: pools, Store: store, Clock: mc}, Config{Interval: time.Second})

	require.Equal(t, 0, sweeper.Sweep(), "grace period hasn't elapsed yet")

	mc.Advance(11 * time.Second)
	require.Equal(t, 2, sweeper.Sweep())

	_, ok := pools.Get(fresh)
	require.False(t, ok)
	require.False(t, store.Has(fresh))
	require.False(t, store.Has(expired))
}

func TestSweep_LeavesReferencedPoolsAlone(t *testing.T) {
	mc := clock.NewMock(time.Unix(0, 0))
	pools := poolset.New(poolset.Config{
		TierRefresh:     map[domain.Tier]time.Duration{domain.TierHigh: time.Second, domain.TierNormal: time.Second, domain.TierLow: time.Second},
		HighThreshold:   0.05,
		NormalThreshold: 0.001,
		FailureRetry:    time.Second,
		GracePeriod:     time.Second,
	}, mc, nil)
	store := statestore.New(0, nil)

	key := domain.PoolKey{Chain: domain.Chain("base"), Address: domain.Address("0xstill-alive")}
	pools.UpsertOnTouch(key, domain.DexV2, 0)

	sweeper := New(Deps{Pools: pools, Store: store, Clock: mc}, Config{Interval: time.Second})
	mc.Advance(time.Hour)
	require.Equal(t, 0, sweeper.Sweep())

	_, ok := pools.Get(key)
	require.True(t, ok)
}

func TestStartStop(t *testing.T) {
	mc := clock.NewMock(time.Unix(0, 0))
	pools := poolset.New(poolset.Config{
		TierRefresh: map[domain.Tier]time.Duration{domain.TierHigh: time.Second, domain.TierNormal: time.Second, domain.TierLow: time.Second},
	}, mc, nil)
	store := statestore.New(0, nil)
	sweeper := New(Deps{Pools: pools, Store: store, Clock: mc}, Config{Interval: 10 * time.Millisecond})
	sweeper.Start()
	sweeper.Stop()
}
