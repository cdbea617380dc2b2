// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainclient is the ChainClient of spec §3/§4.4: it turns a
// batch of pool reads into a single on-chain Multicall3 aggregate3 call
// per provider, bundling getBlockNumber() into the same call so a
// batch's pool states and its block number come from one atomic
// snapshot of chain state.
package chainclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/luxfi/log"
	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/metrics"
)

// PoolCallRequest names one pool to read in a Multicall batch.
type PoolCallRequest struct {
	Key     domain.PoolKey
	DexKind domain.DexKind
}

// PoolReadResult is the decoded (or failed) outcome of one pool's read
// within a Multicall batch. Success is false for both on-chain
// allowFailure reverts and local ABI-decode failures (spec §4.4: "a
// per-call decode failure marks only that pool as failed").
type PoolReadResult struct {
	Key          domain.PoolKey
	Success      bool
	Err          error
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
	Reserve0     *uint256.Int
	Reserve1     *uint256.Int
}

// ChainClient is the on-chain read boundary components outside this
// package depend on. The scheduler calls Multicall once per (chain,
// provider, batch); everything else here is implementation.
type ChainClient interface {
	Multicall(ctx context.Context, chain domain.Chain, providerIndex int, reqs []PoolCallRequest) (blockNumber uint64, results []PoolReadResult, err error)
}

// Endpoint is one provider's RPC URL and the Multicall3 aggregator
// deployed on that chain (Multicall3 is deployed at the same address
// on almost every EVM chain, but it is configuration, not a constant,
// since a given deployment is never guaranteed).
type Endpoint struct {
	URL        string
	Aggregator domain.Address
}

// HTTPClient is the production ChainClient: one JSON-RPC transport per
// (chain, providerIndex), guarded by a per-provider token bucket and
// the spec §6 exponential-backoff retry policy.
type HTTPClient struct {
	endpoints     map[domain.Chain][]Endpoint // indexed by providerIndex
	retryAttempts int
	retryBackoff  []time.Duration

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpClient *http.Client
	met        *metrics.Metrics
	log        log.Logger
}

// NewHTTPClient builds a ChainClient. ratePerSecond/burst parameterize
// the per-(chain,provider) token bucket; pass 0 for an unlimited
// bucket (useful in tests against an in-process fake RPC server).
func NewHTTPClient(
	endpoints map[domain.Chain][]Endpoint,
	retryAttempts int,
	retryBackoff []time.Duration,
	ratePerSecond float64,
	burst int,
	met *metrics.Metrics,
) *HTTPClient {
	if met == nil {
		met = metrics.NewNop()
	}
	c := &HTTPClient{
		endpoints:     endpoints,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		limiters:      make(map[string]*rate.Limiter),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		met:           met,
		log:           log.Root(),
	}
	if ratePerSecond > 0 {
		for chain, eps := range endpoints {
			for i := range eps {
				key := limiterKey(chain, i)
				if burst < 1 {
					burst = 1
				}
				c.limiters[key] = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
			}
		}
	}
	return c
}

func limiterKey(chain domain.Chain, providerIndex int) string {
	return string(chain) + "#" + fmt.Sprint(providerIndex)
}

func (c *HTTPClient) limiterFor(chain domain.Chain, providerIndex int) *rate.Limiter {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	return c.limiters[limiterKey(chain, providerIndex)]
}

// Multicall implements ChainClient. A whole-batch failure (network
// error, rate limit, malformed top-level response) is retried up to
// retryAttempts times with the configured backoff; a per-pool decode
// failure never triggers a retry, it simply marks that pool failed in
// the returned results (spec §4.4).
func (c *HTTPClient) Multicall(ctx context.Context, chain domain.Chain, providerIndex int, reqs []PoolCallRequest) (uint64, []PoolReadResult, error) {
	eps, ok := c.endpoints[chain]
	if !ok || providerIndex >= len(eps) {
		return 0, nil, fmt.Errorf("chainclient: no endpoint for chain %s provider %d", chain, providerIndex)
	}
	ep := eps[providerIndex]

	if limiter := c.limiterFor(chain, providerIndex); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("chainclient: rate limiter wait: %w", err)
		}
	}

	calldata, layout, err := buildCalls(ep.Aggregator, reqs)
	if err != nil {
		return 0, nil, err
	}

	transport := newJSONRPCTransport(ep.URL, c.httpClient)

	var (
		raw     []byte
		lastErr error
	)
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		raw, lastErr = transport.ethCall(ctx, string(ep.Aggregator), calldata)
		if lastErr == nil {
			break
		}
		c.log.Warn("chainclient multicall attempt failed", "chain", string(chain), "provider", providerIndex, "attempt", attempt, "err", lastErr)
		if attempt == c.retryAttempts {
			break
		}
		c.met.AddCounter(c.met.BatchRetriesTotal, 1)
		delay := backoffFor(c.retryBackoff, attempt)
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		c.met.AddCounter(c.met.BatchFailedTotal, 1)
		return 0, nil, fmt.Errorf("chainclient: multicall to %s provider %d exhausted retries: %w", chain, providerIndex, lastErr)
	}

	return decodeBatch(raw, layout)
}

func backoffFor(schedule []time.Duration, attempt int) time.Duration {
	if attempt < len(schedule) {
		return schedule[attempt]
	}
	if len(schedule) == 0 {
		return time.Second
	}
	return schedule[len(schedule)-1]
}

// callLayout records how many aggregate3 calls each request consumed
// (1 for v2's getReserves, 2 for v3's slot0+liquidity), so decodeBatch
// can walk the flat Result[] back into per-pool results.
type callLayout struct {
	reqs       []PoolCallRequest
	callsPerReq []int
}

func buildCalls(aggregator domain.Address, reqs []PoolCallRequest) ([]byte, callLayout, error) {
	calls := make([]call3, 0, len(reqs)*2+1)
	calls = append(calls, call3{Target: aggregator, AllowFailure: false, CallData: selGetBlockNumber[:]})

	layout := callLayout{reqs: reqs, callsPerReq: make([]int, len(reqs))}
	for i, r := range reqs {
		target := domain.Address(r.Key.Address)
		switch r.DexKind {
		case domain.DexV3:
			calls = append(calls,
				call3{Target: target, AllowFailure: true, CallData: selSlot0[:]},
				call3{Target: target, AllowFailure: true, CallData: selLiquidity[:]},
			)
			layout.callsPerReq[i] = 2
		default:
			calls = append(calls, call3{Target: target, AllowFailure: true, CallData: selGetReserves[:]})
			layout.callsPerReq[i] = 1
		}
	}

	calldata, err := encodeAggregate3(calls)
	return calldata, layout, err
}

func decodeBatch(raw []byte, layout callLayout) (uint64, []PoolReadResult, error) {
	results, err := decodeAggregate3Result(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("chainclient: decoding aggregate3 result: %w", err)
	}
	if len(results) < 1 {
		return 0, nil, fmt.Errorf("chainclient: empty aggregate3 result")
	}
	if !results[0].Success {
		return 0, nil, fmt.Errorf("chainclient: getBlockNumber call failed")
	}
	blockNumber, err := decodeUint(results[0].ReturnData)
	if err != nil {
		return 0, nil, fmt.Errorf("chainclient: decoding block number: %w", err)
	}

	out := make([]PoolReadResult, len(layout.reqs))
	idx := 1
	for i, r := range layout.reqs {
		n := layout.callsPerReq[i]
		sub := results[idx : idx+n]
		idx += n
		out[i] = decodeOne(r, sub)
	}
	return blockNumber, out, nil
}

func decodeOne(r PoolCallRequest, sub []rawResult) PoolReadResult {
	res := PoolReadResult{Key: r.Key}
	switch r.DexKind {
	case domain.DexV3:
		slot0, liq := sub[0], sub[1]
		if !slot0.Success || !liq.Success {
			res.Err = &DecodeError{Reason: "slot0 or liquidity call reverted"}
			return res
		}
		sqrtPriceX96, tick, err := decodeSlot0(slot0.ReturnData)
		if err != nil {
			res.Err = err
			return res
		}
		liquidity, err := decodeUint256(liq.ReturnData, 0)
		if err != nil {
			res.Err = &DecodeError{Reason: "liquidity: " + err.Error()}
			return res
		}
		res.Success = true
		res.SqrtPriceX96 = sqrtPriceX96
		res.Tick = tick
		res.Liquidity = liquidity
	default:
		call := sub[0]
		if !call.Success {
			res.Err = &DecodeError{Reason: "getReserves call reverted"}
			return res
		}
		r0, err := decodeUint256(call.ReturnData, 0)
		if err != nil {
			res.Err = &DecodeError{Reason: "reserve0: " + err.Error()}
			return res
		}
		r1, err := decodeUint256(call.ReturnData, 32)
		if err != nil {
			res.Err = &DecodeError{Reason: "reserve1: " + err.Error()}
			return res
		}
		res.Success = true
		res.Reserve0 = r0
		res.Reserve1 = r1
	}
	return res
}

// decodeSlot0 decodes Uniswap v3's slot0() return tuple:
// (uint160 sqrtPriceX96, int24 tick, ...). Only the first two fields
// are used by the pricing engine; the rest (observationIndex, etc.)
// are left unread.
func decodeSlot0(data []byte) (*uint256.Int, int32, error) {
	if len(data) < 64 {
		return nil, 0, &DecodeError{Reason: "slot0 return data too short"}
	}
	sqrtPriceX96 := new(uint256.Int).SetBytes(data[0:32])
	tickWord := data[32:64]
	tickRaw := int32(binary.BigEndian.Uint32(tickWord[28:32]))
	return sqrtPriceX96, signExtend24(tickRaw), nil
}

func decodeUint256(data []byte, offset int) (*uint256.Int, error) {
	if offset+32 > len(data) {
		return nil, fmt.Errorf("return data too short (need %d bytes at offset %d, have %d)", 32, offset, len(data))
	}
	return new(uint256.Int).SetBytes(data[offset : offset+32]), nil
}

func decodeUint(data []byte) (uint64, error) {
	v, err := decodeUint256(data, 0)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// signExtend24 treats the low 24 bits of v as Solidity's int24 and
// sign-extends into int32.
func signExtend24(v int32) int32 {
	v &= 0x00FFFFFF
	if v&0x00800000 != 0 {
		v |= ^int32(0x00FFFFFF)
	}
	return v
}
