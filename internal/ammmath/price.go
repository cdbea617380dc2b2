// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ammmath converts raw on-chain pool state into a token1-per-
// token0 spot price. Both the scheduler (for tier-classification deltas)
// and the pricing engine (for multi-hop USD conversion) need the exact
// same formula, so it lives in one place.
package ammmath

import (
	"math/big"

	"github.com/holiman/uint256"
)

var twoPow96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// decimalScale returns 10^(dec0-dec1) as a big.Float, the factor that
// converts a pool's raw (smallest-unit) token1-per-token0 ratio into a
// human-comparable one (spec §4.6 step 6). dec0 == dec1 (the common
// case when the caller has no decimals information) is the identity.
func decimalScale(dec0, dec1 uint8) *big.Float {
	if dec0 == dec1 {
		return big.NewFloat(1)
	}
	diff := int(dec0) - int(dec1)
	neg := diff < 0
	if neg {
		diff = -diff
	}
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(diff)), nil)
	scale := new(big.Float).SetInt(pow)
	if neg {
		scale.Quo(big.NewFloat(1), scale)
	}
	return scale
}

// V3Price returns the human-comparable token1-per-token0 price from a
// Uniswap v3 sqrtPriceX96 value: raw = (sqrtPriceX96 / 2^96)^2, scaled
// by 10^(dec0-dec1) per spec §4.6 step 6.
func V3Price(sqrtPriceX96 *uint256.Int, dec0, dec1 uint8) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.IsZero() {
		return 0
	}
	f := new(big.Float).SetInt(sqrtPriceX96.ToBig())
	f.Quo(f, twoPow96)
	f.Mul(f, f)
	f.Mul(f, decimalScale(dec0, dec1))
	out, _ := f.Float64()
	return out
}

// V2Price returns the human-comparable token1-per-token0 price from a
// Uniswap v2 constant-product pair's reserves: raw = reserve1/reserve0,
// scaled by 10^(dec0-dec1) per spec §4.6 step 6 — equivalently
// (reserve1/10^dec1) / (reserve0/10^dec0).
func V2Price(reserve0, reserve1 *uint256.Int, dec0, dec1 uint8) float64 {
	if reserve0 == nil || reserve1 == nil || reserve0.IsZero() {
		return 0
	}
	f0 := new(big.Float).SetInt(reserve0.ToBig())
	f1 := new(big.Float).SetInt(reserve1.ToBig())
	f1.Quo(f1, f0)
	f1.Mul(f1, decimalScale(dec0, dec1))
	out, _ := f1.Float64()
	return out
}
