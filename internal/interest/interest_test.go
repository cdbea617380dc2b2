// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package interest

import (
	"context"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/pricing"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/scheduler"
	"github.com/luxfi/pricewatch/internal/statestore"
)

type fakePoker struct {
	pokes int
}

func (f *fakePoker) Poke() { f.pokes++ }
func (f *fakePoker) WaitForFirstRun(ctx context.Context) error {
	return nil
}
func (f *fakePoker) Stats() scheduler.Stats {
	return scheduler.Stats{}
}

func tokenSet(tokens ...domain.Address) mapset.Set[domain.Address] {
	return mapset.NewSet(tokens...)
}

const chain = domain.Chain("base")

var (
	usdc  = domain.Address("0xusdc")
	weth  = domain.Address("0xweth")
	token = domain.Address("0xtoken")
	pool1 = domain.Address("0xpool1") // token/weth
	pool2 = domain.Address("0xpool2") // weth/usdc
)

func setup(t *testing.T) (*API, *poolset.PoolSet, *fakePoker) {
	reg := domain.NewChainRegistry(chain)
	reg.Stablecoins.Add(usdc)
	reg.SymbolOf[usdc] = "USDC"
	reg.SymbolOf[weth] = "WETH"
	reg.Pools[pool1] = domain.Pool{Address: pool1, DexKind: domain.DexV2, Token0: token, Token1: weth}
	reg.Pools[pool2] = domain.Pool{Address: pool2, DexKind: domain.DexV3, Token0: weth, Token1: usdc}
	reg.Routes[token] = map[string][]domain.Address{"WETH": {pool1}}
	reg.Routes[weth] = map[string][]domain.Address{"USDC": {pool2}}

	regStore := registry.NewStore([]domain.Chain{chain})
	regStore.SwapChain(chain, reg)

	pools := poolset.New(poolset.Config{
		TierRefresh: map[domain.Tier]time.Duration{domain.TierHigh: time.Second, domain.TierNormal: time.Second, domain.TierLow: time.Second},
		HighThreshold: 0.05, NormalThreshold: 0.001, FailureRetry: time.Second, GracePeriod: time.Second,
	}, clock.NewMock(time.Unix(0, 0)), nil)

	engine := pricing.New(regStore, statestore.New(0, nil))
	poker := &fakePoker{}
	api := New(regStore, pools, engine, poker)
	return api, pools, poker
}

func TestTouch_CreatesEveryPoolOnTheTransitiveRoute(t *testing.T) {
	api, pools, poker := setup(t)
	n, err := api.Touch(chain, tokenSet(token), 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	e1, ok := pools.Get(domain.PoolKey{Chain: chain, Address: pool1})
	require.True(t, ok)
	require.Equal(t, 1, e1.RefCount)

	e2, ok := pools.Get(domain.PoolKey{Chain: chain, Address: pool2})
	require.True(t, ok)
	require.Equal(t, 1, e2.RefCount)

	require.Equal(t, 1, poker.pokes)
}

func TestTouch_SecondTouchIncrementsWithoutNewPoke(t *testing.T) {
	api, pools, poker := setup(t)
	_, err := api.Touch(chain, tokenSet(token), 0)
	require.NoError(t, err)
	n, err := api.Touch(chain, tokenSet(token), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n, "second touch creates no new entries")

	e1, _ := pools.Get(domain.PoolKey{Chain: chain, Address: pool1})
	require.Equal(t, 2, e1.RefCount)
	require.Equal(t, 1, poker.pokes, "second touch creates no new entries, so no new poke")
}

func TestTouch_SeedsGraceTTL(t *testing.T) {
	api, pools, _ := setup(t)
	_, err := api.Touch(chain, tokenSet(token), 5*time.Second)
	require.NoError(t, err)

	e1, ok := pools.Get(domain.PoolKey{Chain: chain, Address: pool1})
	require.True(t, ok)
	require.Equal(t, 5*time.Second, e1.GraceTTL)
}

func TestRelease_BalancesTouch(t *testing.T) {
	api, pools, _ := setup(t)
	_, err := api.Touch(chain, tokenSet(token), 0)
	require.NoError(t, err)
	n, err := api.Release(chain, tokenSet(token))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	e1, ok := pools.Get(domain.PoolKey{Chain: chain, Address: pool1})
	require.True(t, ok)
	require.Equal(t, 0, e1.RefCount)
	require.NotNil(t, e1.GraceDeadline)
}

func TestTouch_UnknownChainErrors(t *testing.T) {
	api, _, _ := setup(t)
	_, err := api.Touch(domain.Chain("nope"), tokenSet(token), 0)
	require.Error(t, err)
}

func TestStats_IncludesSchedulerLoad(t *testing.T) {
	reg := domain.NewChainRegistry(chain)
	regStore := registry.NewStore([]domain.Chain{chain})
	regStore.SwapChain(chain, reg)
	pools := poolset.New(poolset.Config{
		TierRefresh: map[domain.Tier]time.Duration{domain.TierHigh: time.Second, domain.TierNormal: time.Second, domain.TierLow: time.Second},
	}, clock.NewMock(time.Unix(0, 0)), nil)
	engine := pricing.New(regStore, statestore.New(0, nil))
	poker := &statsPoker{stats: scheduler.Stats{PendingBatchSize: 3, LastBatchMs: 42}}
	api := New(regStore, pools, engine, poker)

	st := api.Stats()
	require.Equal(t, 3, st.PendingBatchSize)
	require.Equal(t, int64(42), st.LastBatchMs)
}

type statsPoker struct {
	stats scheduler.Stats
}

func (s *statsPoker) Poke() {}
func (s *statsPoker) WaitForFirstRun(ctx context.Context) error {
	return nil
}
func (s *statsPoker) Stats() scheduler.Stats {
	return s.stats
}
