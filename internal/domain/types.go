// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package domain holds the shared value types of spec §3 (Registry,
// PoolEntry, PoolState) so every component — registry, statestore,
// poolset, batchplanner, chainclient, scheduler, pricing, interest —
// speaks the same vocabulary without import cycles back into any one
// of them.
package domain

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Chain identifies one of the (exactly two, in production) networks
// this instance prices. The engine itself is chain-count agnostic.
type Chain string

// Address is a canonically-normalized (lowercase) on-chain address.
type Address string

// NormalizeAddress applies the single canonical case required by
// spec §3's Registry invariant.
func NormalizeAddress(a string) Address {
	return Address(strings.ToLower(a))
}

// DexKind distinguishes the two pool state shapes and read patterns.
type DexKind uint8

const (
	DexV2 DexKind = iota
	DexV3
)

func (k DexKind) String() string {
	switch k {
	case DexV2:
		return "v2"
	case DexV3:
		return "v3"
	default:
		return "unknown"
	}
}

// Weight returns the on-chain read weight of a pool of this kind:
// 1 for v2 (single reserve read), 2 for v3 (slot0 + liquidity).
func (k DexKind) Weight() int {
	if k == DexV3 {
		return 2
	}
	return 1
}

// Tier is a refresh-cadence class chosen from recent price volatility.
type Tier uint8

const (
	TierHigh Tier = iota
	TierNormal
	TierLow
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierNormal:
		return "normal"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// PoolKey uniquely identifies a pool across chains.
type PoolKey struct {
	Chain   Chain
	Address Address
}

func (k PoolKey) String() string {
	return string(k.Chain) + "/" + string(k.Address)
}

// Pool is the registry's static description of a pool (spec §3).
type Pool struct {
	Address  Address
	DexKind  DexKind
	Token0   Address
	Token1   Address
	FeeTier  *uint32 // v3 only
	Weight   int

	// Decimals0/Decimals1 are token0's/token1's ERC-20 decimals(), as
	// discovery snapshots them alongside the pool. PricingEngine §4.6
	// step 6 requires these to convert a pool's raw reserve/sqrtPrice
	// ratio into a human-comparable price.
	Decimals0 uint8
	Decimals1 uint8
}

// ChainRegistry is the read-only per-chain slice of Registry (spec §3).
// It is always handled as a value behind an immutable pointer: discovery
// swaps it wholesale, never mutates it in place.
type ChainRegistry struct {
	Chain         Chain
	Pools         map[Address]Pool
	Routes        map[Address]map[string][]Address // token -> baseSymbol -> ordered pool list
	SymbolOf      map[Address]string               // base address -> symbol
	Stablecoins   mapset.Set[Address]
	WrappedNative Address
}

// NewChainRegistry returns an empty, ready-to-populate registry for chain.
func NewChainRegistry(chain Chain) *ChainRegistry {
	return &ChainRegistry{
		Chain:       chain,
		Pools:       make(map[Address]Pool),
		Routes:      make(map[Address]map[string][]Address),
		SymbolOf:    make(map[Address]string),
		Stablecoins: mapset.NewSet[Address](),
	}
}

// PriceResult is the tri-state outcome of PricingEngine.Price (spec §4.6,
// design note: "model Price as a sum of {Usd(x), NotReady, NoRoute}").
type PriceStatus uint8

const (
	PriceOK PriceStatus = iota
	PriceNotReady
	PriceNoRoute
)

type PriceResult struct {
	Status PriceStatus
	UsdPrice float64
}
