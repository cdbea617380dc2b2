// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statestore

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/pricewatch/internal/domain"
)

// PoolState is the last observed on-chain state of one pool (spec §3).
// Only the fields relevant to the pool's DexKind are populated; the
// others are left at their zero value.
type PoolState struct {
	DexKind domain.DexKind
	Token0  domain.Address
	Token1  domain.Address

	BlockNumber uint64
	ObservedAt  time.Time

	// v3
	SqrtPriceX96 *uint256.Int // 160-bit unsigned
	Tick         int32        // 24-bit signed, sign-extended into int32
	Liquidity    *uint256.Int // 128-bit unsigned

	// v2
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

func zeroU256() *uint256.Int { return new(uint256.Int) }
