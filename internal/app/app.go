// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app is the composition root: it wires Registry, PoolSet,
// StateStore, ChainClient, Scheduler, GC and the InterestAPI façade
// together from a config.Config, and owns their Start/Stop lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/pricewatch/config"
	"github.com/luxfi/pricewatch/internal/chainclient"
	"github.com/luxfi/pricewatch/internal/clock"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/internal/gc"
	"github.com/luxfi/pricewatch/internal/interest"
	"github.com/luxfi/pricewatch/internal/poolset"
	"github.com/luxfi/pricewatch/internal/pricing"
	"github.com/luxfi/pricewatch/internal/registry"
	"github.com/luxfi/pricewatch/internal/scheduler"
	"github.com/luxfi/pricewatch/internal/statestore"
	"github.com/luxfi/pricewatch/metrics"
)

// App is the running pricewatch engine.
type App struct {
	cfg *config.Config

	Registry *registry.Store
	Pools    *poolset.PoolSet
	Store    *statestore.Store
	Interest *interest.API

	scheduler *scheduler.Scheduler
	gc        *gc.Sweeper
	log       log.Logger
}

// New builds an App from cfg but does not start it.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	met := metrics.New("pricewatch")
	clk := clock.Real{}

	chains := make([]domain.Chain, len(cfg.Chains))
	for i, c := range cfg.Chains {
		chains[i] = domain.Chain(c)
	}

	regStore := registry.NewStore(chains)
	store := statestore.New(0, met)
	pools := poolset.New(poolset.Config{
		TierRefresh: map[domain.Tier]time.Duration{
			domain.TierHigh:   cfg.TierRefresh["high"],
			domain.TierNormal: cfg.TierRefresh["normal"],
			domain.TierLow:    cfg.TierRefresh["low"],
		},
		HighThreshold:   cfg.TierThresholds.High,
		NormalThreshold: cfg.TierThresholds.Normal,
		FailureRetry:    cfg.FailureRetry,
		GracePeriod:     cfg.GracePeriod,
	}, clk, met)

	endpoints := make(map[domain.Chain][]chainclient.Endpoint, len(cfg.Endpoints))
	for chainName, eps := range cfg.Endpoints {
		out := make([]chainclient.Endpoint, len(eps))
		for i, e := range eps {
			out[i] = chainclient.Endpoint{URL: e.URL, Aggregator: domain.NormalizeAddress(e.Aggregator)}
		}
		endpoints[domain.Chain(chainName)] = out
	}
	client := chainclient.NewHTTPClient(endpoints, cfg.RetryAttempts, cfg.RetryBackoff, 0, 0, met)

	sched := scheduler.New(scheduler.Deps{
		Registry: regStore,
		Pools:    pools,
		Store:    store,
		Client:   client,
		Clock:    clk,
		Metrics:  met,
	}, scheduler.Config{
		CollectionWindow:  cfg.CollectionWindow,
		FlushThreshold:    cfg.FlushThreshold,
		MaxWeightPerBatch: cfg.MaxWeightPerBatch,
		ProviderCount:     cfg.ProviderCount,
		BatchDeadline:     cfg.BatchDeadline,
	})

	engine := pricing.New(regStore, store, pricing.WithStateTTL(clk, cfg.StateTTL))
	sweeper := gc.New(gc.Deps{Pools: pools, Store: store, Clock: clk, Metrics: met}, gc.Config{Interval: cfg.GCInterval})

	api := interest.New(regStore, pools, engine, sched)

	return &App{
		cfg:       cfg,
		Registry:  regStore,
		Pools:     pools,
		Store:     store,
		Interest:  api,
		scheduler: sched,
		gc:        sweeper,
		log:       log.Root(),
	}, nil
}

// Start launches the scheduler and GC sweeper background loops.
func (a *App) Start() {
	a.scheduler.Start()
	a.gc.Start()
	a.log.Info("pricewatch engine started", "chains", a.cfg.Chains)
}

// Stop gracefully shuts down every background loop, giving each up to
// deadline to finish its current work (spec §7's graceful-shutdown
// contract).
func (a *App) Stop(deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.scheduler.Stop()
		a.gc.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: shutdown did not complete within %s", deadline)
	}
}

// WaitReady blocks until the engine has completed at least one
// scheduler flush (spec §7's Ready gate).
func (a *App) WaitReady(ctx context.Context) error {
	return a.Interest.WaitForFirstRun(ctx)
}
