// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/pricewatch/internal/chainclient"
	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/statestore"
)

var errFake = errors.New("fake multicall failure")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error)
}

func (f *fakeClient) Multicall(_ context.Context, _ domain.Chain, _ int, reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(reqs)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDeps(t *testing.T, client chainclient.ChainClient) (Deps, *poolset.PoolSet, *clock.Mock) {
	chain := domain.Chain("base")
	mc := clock.NewMock(time.Unix(0, 0))
	pools := poolset.New(poolset.Config{
		TierRefresh: map[domain.Tier]time.Duration{
			domain.TierHigh:   time.Second,
			domain.TierNormal: time.Second,
			domain.TierLow:    time.Second,
		},
		HighThreshold:   0.05,
		NormalThreshold: 0.001,
		FailureRetry:    time.Second,
		GracePeriod:     time.Second,
	}, mc, nil)

	reg := registry.NewStore([]domain.Chain{chain})
	store := statestore.New(0, nil)
	return Deps{Registry: reg, Pools: pools, Store: store, Client: client, Clock: mc}, pools, mc
}

func TestScheduler_FlushesOnThreshold(t *testing.T) {
	chain := domain.Chain("base")
	var gotReqs []chainclient.PoolCallRequest
	done := make(chan struct{})
	client := &fakeClient{fn: func(reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error) {
		gotReqs = reqs
		results := make([]chainclient.PoolReadResult, len(reqs))
		for i, r := range reqs {
			results[i] = chainclient.PoolReadResult{Key: r.Key, Success: true, Reserve0: nil, Reserve1: nil}
		}
		close(done)
		return 1, results, nil
	}}

	deps, pools, _ := newTestDeps(t, client)
	for i := 0; i < 3; i++ {
		key := domain.PoolKey{Chain: chain, Address: domain.Address(string(rune('a' + i)))}
		pools.UpsertOnTouch(key, domain.DexV2, 0)
	}

	s := New(deps, Config{
		CollectionWindow:  50 * time.Millisecond,
		FlushThreshold:    3,
		MaxWeightPerBatch: 50,
		ProviderCount:     1,
		BatchDeadline:     time.Second,
	})
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never happened")
	}
	require.Len(t, gotReqs, 3)
}

func TestScheduler_WaitForFirstRun(t *testing.T) {
	client := &fakeClient{fn: func(reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error) {
		return 1, nil, nil
	}}
	deps, _, _ := newTestDeps(t, client)

	s := New(deps, Config{
		CollectionWindow:  10 * time.Millisecond,
		FlushThreshold:    10,
		MaxWeightPerBatch: 50,
		ProviderCount:     1,
		BatchDeadline:     time.Second,
	})
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForFirstRun(ctx))
}

func TestScheduler_FailureReschedulesWithoutPanicking(t *testing.T) {
	chain := domain.Chain("base")
	failingClient := &fakeClient{fn: func(reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error) {
		return 0, nil, errFake
	}}

	deps, pools, _ := newTestDeps(t, failingClient)
	key := domain.PoolKey{Chain: chain, Address: domain.Address("0xaaaa")}
	pools.UpsertOnTouch(key, domain.DexV2, 0)

	s := New(deps, Config{
		CollectionWindow:  10 * time.Millisecond,
		FlushThreshold:    1,
		MaxWeightPerBatch: 50,
		ProviderCount:     1,
		BatchDeadline:     time.Second,
	})
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForFirstRun(ctx))
	s.Stop()

	e, ok := pools.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(0), e.LastBlockSeen)
}

func TestScheduler_SameBlockRefreshLeavesTierAlone(t *testing.T) {
	chain := domain.Chain("base")
	key := domain.PoolKey{Chain: chain, Address: domain.Address("0xbbbb")}

	var batches int32
	client := &fakeClient{fn: func(reqs []chainclient.PoolCallRequest) (uint64, []chainclient.PoolReadResult, error) {
		atomic.AddInt32(&batches, 1)
		results := make([]chainclient.PoolReadResult, len(reqs))
		for i, r := range reqs {
			results[i] = chainclient.PoolReadResult{Key: r.Key, Success: true, Reserve0: uint256.NewInt(1000), Reserve1: uint256.NewInt(2000)}
		}
		return 7, results, nil // same block every batch
	}}

	deps, pools, mc := newTestDeps(t, client)
	pools.UpsertOnTouch(key, domain.DexV2, 0)

	s := New(deps, Config{
		CollectionWindow:  5 * time.Millisecond,
		FlushThreshold:    1,
		MaxWeightPerBatch: 50,
		ProviderCount:     1,
		BatchDeadline:     time.Second,
		pollGranularity:   time.Millisecond,
	})
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForFirstRun(ctx))

	e, ok := pools.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(7), e.LastBlockSeen)
	require.Equal(t, domain.TierNormal, e.Tier)
	firstPrice := e.LastPrice

	// Force a second batch against the same block number: the pool's
	// tier and price must be untouched by it.
	mc.Advance(time.Second)
	for atomic.LoadInt32(&batches) < 2 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	e, ok = pools.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(7), e.LastBlockSeen)
	require.Equal(t, domain.TierNormal, e.Tier)
	require.Equal(t, firstPrice, e.LastPrice)
}
