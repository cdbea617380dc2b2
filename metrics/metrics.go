// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes the gauges and counters described in spec §6
// (Stats()) and §4.4/§4.5 (batch/retry telemetry), backed by
// github.com/luxfi/metric the same way the teacher wires cache stats in
// utils/metered_cache.go: one Gauge/Counter field per series,
// namespaced with fmt.Sprintf("%s/name", namespace).
package metrics

import (
	"fmt"

	luxmetric "github.com/luxfi/metric"
)

// Metrics is the metrics surface shared by every component. A nil
// *Metrics is valid everywhere it's accepted; every recorder method is
// nil-safe so components don't need "if metrics != nil" at every call
// site (see Set/Add helpers below).
//
// AlivePools, PoolsHigh, PoolsNormal, PoolsLow, PriceNotReady and
// PriceNoRoute are registered but no component updates them; they stay
// at zero.
type Metrics struct {
	AlivePools        luxmetric.Gauge
	PoolsHigh         luxmetric.Gauge
	PoolsNormal       luxmetric.Gauge
	PoolsLow          luxmetric.Gauge
	PendingBatchSize  luxmetric.Gauge
	LastBatchMs       luxmetric.Gauge
	BatchRetriesTotal luxmetric.Counter
	BatchFailedTotal  luxmetric.Counter
	CacheHitTotal     luxmetric.Counter
	CacheMissTotal    luxmetric.Counter
	StateInstalled    luxmetric.Counter
	StateStale        luxmetric.Counter
	PriceNotReady     luxmetric.Counter
	PriceNoRoute      luxmetric.Counter
	GCRemovedTotal    luxmetric.Counter
}

// New constructs a Metrics bound to namespace, following the gauge/counter
// naming scheme used by utils/metered_cache.go's NewMeteredCache. Pass ""
// to get metrics that are created but never surfaced under a registry name.
func New(namespace string) *Metrics {
	gauge := func(name, help string) luxmetric.Gauge {
		return luxmetric.NewGauge(luxmetric.GaugeOpts{Name: fmt.Sprintf("%s/%s", namespace, name), Help: help})
	}
	counter := func(name, help string) luxmetric.Counter {
		return luxmetric.NewCounter(luxmetric.CounterOpts{Name: fmt.Sprintf("%s/%s", namespace, name), Help: help})
	}
	return &Metrics{
		AlivePools:        gauge("alive_pools", "number of pools currently alive in PoolSet"),
		PoolsHigh:         gauge("pools_tier_high", "alive pools in the high-volatility tier"),
		PoolsNormal:       gauge("pools_tier_normal", "alive pools in the normal tier"),
		PoolsLow:          gauge("pools_tier_low", "alive pools in the low-volatility tier"),
		PendingBatchSize:  gauge("pending_batch_size", "pools currently collected in the scheduler's pending set"),
		LastBatchMs:       gauge("last_batch_ms", "duration of the most recently completed batch flush"),
		BatchRetriesTotal: counter("batch_retries_total", "chain client retry attempts"),
		BatchFailedTotal:  counter("batch_failed_total", "batches that exhausted retries and failed"),
		CacheHitTotal:     counter("state_cache_hit_total", "StateStore reads that found a cached pool state"),
		CacheMissTotal:    counter("state_cache_miss_total", "StateStore reads that found nothing cached"),
		StateInstalled:    counter("state_installed_total", "pool states installed by a refresh"),
		StateStale:        counter("state_stale_skipped_total", "refreshed states discarded because their blockNumber was older than the cached one"),
		PriceNotReady:     counter("price_not_ready_total", "Price calls that returned NotReady"),
		PriceNoRoute:      counter("price_no_route_total", "Price calls that returned NoRoute"),
		GCRemovedTotal:    counter("gc_removed_total", "pool entries removed by GC"),
	}
}

// NewNop returns a Metrics whose series are never looked up by a scraper,
// for tests and standalone components run outside the full composition root.
func NewNop() *Metrics {
	return New("")
}

func (m *Metrics) SetGauge(g luxmetric.Gauge, v float64) {
	if m == nil || g == nil {
		return
	}
	g.Set(v)
}

func (m *Metrics) AddCounter(c luxmetric.Counter, v float64) {
	if m == nil || c == nil {
		return
	}
	c.Add(v)
}
