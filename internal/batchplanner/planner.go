// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package batchplanner packs due pools into weight-capped, provider-
// assigned batches (spec §4.3, BatchPlanner).
package batchplanner

import (
	"github.com/luxfi/pricewatch/internal/poolset"
)

// Batch is one weight-capped group of pools assigned to one provider.
type Batch struct {
	Pools         []poolset.Entry
	TotalWeight   int
	ProviderIndex int
}

// Plan packs due (already chain-filtered, in stable order) into batches
// capped at maxWeight, round-robin across providerCount providers. A
// pool whose own weight exceeds maxWeight is placed alone in its own
// batch rather than rejected (spec §4.3, §8 "Weight cap" invariant).
func Plan(due []poolset.Entry, maxWeight, providerCount int) []Batch {
	if providerCount < 1 {
		providerCount = 1
	}

	var (
		batches []Batch
		current []poolset.Entry
		weight  int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{
			Pools:         current,
			TotalWeight:   weight,
			ProviderIndex: len(batches) % providerCount,
		})
		current = nil
		weight = 0
	}

	for _, e := range due {
		w := e.DexKind.Weight()
		if w > maxWeight {
			flush()
			batches = append(batches, Batch{
				Pools:         []poolset.Entry{e},
				TotalWeight:   w,
				ProviderIndex: len(batches) % providerCount,
			})
			continue
		}
		if weight+w > maxWeight {
			flush()
		}
		current = append(current, e)
		weight += w
	}
	flush()

	return batches
}

// TotalWeight is a small helper exposed for tests and Stats reporting.
func TotalWeight(entries []poolset.Entry) int {
	total := 0
	for _, e := range entries {
		total += e.DexKind.Weight()
	}
	return total
}
