// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scheduler coalesces due pools into weight-capped on-chain
// batches (spec §3/§4.5). Its collection-window loop is the same shape
// as the teacher's scheduleReorgLoop in core/txpool/txpool.go: a single
// goroutine that accumulates pending work behind a request channel and
// launches it in the background once a window closes, rather than
// firing one on-chain call per pool as soon as it becomes due.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"
	"github.com/luxfi/pricewatch/internal/ammmath"
	"github.com/luxfi/pricewatch/internal/batchplanner"
	"github.com/luxfi/pricewatch/internal/chainclient"
	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/statestore"
	"github.com/luxfi/pricewatch/metrics"
)

// Config carries the spec §6 scheduler tunables.
type Config struct {
	CollectionWindow  time.Duration
	FlushThreshold    int
	MaxWeightPerBatch int
	ProviderCount     int
	BatchDeadline     time.Duration
	pollGranularity   time.Duration // test seam; defaults to 50ms
}

// Deps are the components the scheduler reads from and writes to. None
// of them are owned by Scheduler: PoolSet and StateStore are shared
// with the façade (InterestAPI), Registry with discovery.
type Deps struct {
	Registry *registry.Store
	Pools    *poolset.PoolSet
	Store    *statestore.Store
	Client   chainclient.ChainClient
	Clock    clock.Clock
	Metrics  *metrics.Metrics
}

// Scheduler runs one background loop that: (1) polls PoolSet for due
// pools, (2) coalesces them across a short collection window, (3) packs
// them into per-chain, per-provider batches, (4) executes every chain's
// batches concurrently, and (5) installs results back into StateStore
// and PoolSet.
type Scheduler struct {
	deps Deps
	cfg  Config
	log  log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}

	firstRunOnce sync.Once
	firstRunCh   chan struct{}

	// pendingBatchSize/lastBatchMs back Stats() (spec §6); read/written
	// with atomics since collect() and runBatch() run on different
	// goroutines from any Stats() caller.
	pendingBatchSize int64
	lastBatchMs      int64
}

// Stats is the scheduler's slice of the façade's aggregate Stats() call
// (spec §6): how much work is queued for the next flush, and how long
// the most recently completed batch took.
type Stats struct {
	PendingBatchSize int
	LastBatchMs      int64
}

// Stats returns a snapshot of the scheduler's current load.
func (s *Scheduler) Stats() Stats {
	return Stats{
		PendingBatchSize: int(atomic.LoadInt64(&s.pendingBatchSize)),
		LastBatchMs:      atomic.LoadInt64(&s.lastBatchMs),
	}
}

// New returns a Scheduler ready for Start.
func New(deps Deps, cfg Config) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if cfg.ProviderCount < 1 {
		cfg.ProviderCount = 1
	}
	if cfg.pollGranularity <= 0 {
		cfg.pollGranularity = 50 * time.Millisecond
	}
	return &Scheduler{
		deps:       deps,
		cfg:        cfg,
		log:        log.Root(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		wakeCh:     make(chan struct{}, 1),
		firstRunCh: make(chan struct{}),
	}
}

// Start launches the scheduler's background loop. Safe to call once.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop signals the loop to exit and blocks until it has drained any
// in-flight flush (spec §7's graceful-shutdown contract).
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Poke wakes the collection loop early, used by the façade's Touch path
// so a newly-referenced pool's first refresh doesn't wait out a stale
// poll interval computed before it existed.
func (s *Scheduler) Poke() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// WaitForFirstRun blocks until the scheduler has completed at least one
// flush (even an empty one), or ctx is done. The façade's Ready gate
// uses this so callers never see NotReady purely because the engine
// hadn't started yet (spec §7).
func (s *Scheduler) WaitForFirstRun(ctx context.Context) error {
	select {
	case <-s.firstRunCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		due, ok := s.collect()
		if !ok {
			return
		}
		s.flush(due)
		atomic.StoreInt64(&s.pendingBatchSize, 0)
		s.firstRunOnce.Do(func() { close(s.firstRunCh) })
	}
}

// collect implements the collection-window coalescing rule of spec
// §4.5: gather due pools until either FlushThreshold pools have
// accumulated or CollectionWindow has elapsed since the first pool
// became due, whichever comes first. A poll that finds nothing due
// returns an empty set, so an idle engine still completes (empty)
// flushes. Returns ok=false only when Stop was called.
func (s *Scheduler) collect() ([]poolset.Entry, bool) {
	pending := make(map[domain.PoolKey]poolset.Entry)

	var windowC <-chan time.Time
	for {
		now := s.deps.Clock.Now()
		for _, e := range s.deps.Pools.DueBefore(now) {
			pending[e.Key] = e
		}
		atomic.StoreInt64(&s.pendingBatchSize, int64(len(pending)))
		s.deps.Metrics.SetGauge(s.deps.Metrics.PendingBatchSize, float64(len(pending)))
		if len(pending) >= s.cfg.FlushThreshold && s.cfg.FlushThreshold > 0 {
			return flatten(pending), true
		}
		if len(pending) > 0 && windowC == nil {
			windowC = time.After(s.cfg.CollectionWindow)
		}

		poll := time.NewTimer(s.pollDelay(now))
		select {
		case <-windowC:
			poll.Stop()
			return flatten(pending), true
		case <-poll.C:
			if len(pending) == 0 {
				return nil, true
			}
		case <-s.wakeCh:
			poll.Stop()
		case <-s.stopCh:
			poll.Stop()
			return nil, false
		}
	}
}

func (s *Scheduler) pollDelay(now time.Time) time.Duration {
	next, ok := s.deps.Pools.NextDue()
	if !ok {
		return s.cfg.pollGranularity
	}
	if d := next.Sub(now); d > 0 && d < s.cfg.pollGranularity {
		return d
	}
	return s.cfg.pollGranularity
}

func flatten(m map[domain.PoolKey]poolset.Entry) []poolset.Entry {
	out := make([]poolset.Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}

// flush groups due entries by chain and runs every chain's batches
// concurrently (spec §4.5 step 2: "chains execute in parallel; within a
// chain, batches execute per-provider").
func (s *Scheduler) flush(due []poolset.Entry) {
	if len(due) == 0 {
		return
	}
	byChain := make(map[domain.Chain][]poolset.Entry)
	for _, e := range due {
		byChain[e.Key.Chain] = append(byChain[e.Key.Chain], e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BatchDeadline)
	defer cancel()

	var g errgroup.Group
	for chain, entries := range byChain {
		chain, entries := chain, entries
		g.Go(func() error {
			s.flushChain(ctx, chain, entries)
			return nil
		})
	}
	_ = g.Wait() // flushChain never returns an error; per-batch failures are logged and rescheduled
}

func (s *Scheduler) flushChain(ctx context.Context, chain domain.Chain, entries []poolset.Entry) {
	planned := batchplanner.Plan(entries, s.cfg.MaxWeightPerBatch, s.cfg.ProviderCount)

	var g errgroup.Group
	for _, b := range planned {
		b := b
		g.Go(func() error {
			s.runBatch(ctx, chain, b)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runBatch(ctx context.Context, chain domain.Chain, b batchplanner.Batch) {
	start := time.Now()
	reqs := make([]chainclient.PoolCallRequest, len(b.Pools))
	for i, e := range b.Pools {
		reqs[i] = chainclient.PoolCallRequest{Key: e.Key, DexKind: e.DexKind}
	}

	blockNumber, results, err := s.deps.Client.Multicall(ctx, chain, b.ProviderIndex, reqs)
	elapsedMs := time.Since(start).Milliseconds()
	atomic.StoreInt64(&s.lastBatchMs, elapsedMs)
	s.deps.Metrics.SetGauge(s.deps.Metrics.LastBatchMs, float64(elapsedMs))
	if err != nil {
		s.log.Warn("scheduler batch failed", "chain", string(chain), "provider", b.ProviderIndex, "pools", len(b.Pools), "err", err)
		for _, e := range b.Pools {
			s.deps.Pools.UpdateFailure(e.Key)
		}
		return
	}

	entryByKey := make(map[domain.PoolKey]poolset.Entry, len(b.Pools))
	for _, e := range b.Pools {
		entryByKey[e.Key] = e
	}

	reg, _ := s.deps.Registry.Chain(chain)
	now := s.deps.Clock.Now()
	for _, r := range results {
		if !r.Success {
			s.deps.Pools.UpdateFailure(r.Key)
			s.log.Debug("scheduler pool read failed", "key", r.Key.String(), "err", r.Err)
			continue
		}

		// A batch's blockNumber unchanged from the pool's last observed
		// block carries no new information (spec §4.5 step 5): skip both
		// the state install and the tier reclassification so a same-block
		// refresh never demotes tier via classify's zero-delta default.
		if entry := entryByKey[r.Key]; blockNumber != 0 && blockNumber == entry.LastBlockSeen {
			continue
		}

		state := stateFromResult(r, blockNumber, now)
		var dec0, dec1 uint8
		if reg != nil {
			if p, ok := reg.Pools[r.Key.Address]; ok {
				state.Token0, state.Token1 = p.Token0, p.Token1
				dec0, dec1 = p.Decimals0, p.Decimals1
			}
		}

		if s.deps.Store.Put(r.Key, state) {
			s.deps.Metrics.AddCounter(s.deps.Metrics.StateInstalled, 1)
		} else {
			s.deps.Metrics.AddCounter(s.deps.Metrics.StateStale, 1)
		}

		s.deps.Pools.UpdateSuccess(r.Key, blockNumber, localPrice(state, dec0, dec1))
	}
}

func stateFromResult(r chainclient.PoolReadResult, blockNumber uint64, observedAt time.Time) statestore.PoolState {
	dexKind := domain.DexV2
	if r.SqrtPriceX96 != nil || r.Liquidity != nil {
		dexKind = domain.DexV3
	}
	return statestore.PoolState{
		DexKind:      dexKind,
		BlockNumber:  blockNumber,
		ObservedAt:   observedAt,
		SqrtPriceX96: r.SqrtPriceX96,
		Tick:         r.Tick,
		Liquidity:    r.Liquidity,
		Reserve0:     r.Reserve0,
		Reserve1:     r.Reserve1,
	}
}

func localPrice(state statestore.PoolState, dec0, dec1 uint8) float64 {
	if state.DexKind == domain.DexV3 {
		return ammmath.V3Price(state.SqrtPriceX96, dec0, dec1)
	}
	return ammmath.V2Price(state.Reserve0, state.Reserve1, dec0, dec1)
}
