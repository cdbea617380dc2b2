// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/pricewatch/internal/domain"
	"github.com/luxfi/pricewatch/metrics"
)

type jsonrpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// fakeMulticallServer answers the first failFirstN eth_calls with HTTP
// 429 and every later one with a canned aggregate3-shaped response: the
// given blockNumber, one successful v2 getReserves result, one
// successful v3 slot0+liquidity pair.
func fakeMulticallServer(t *testing.T, blockNumber uint64, failFirstN int) *httptest.Server {
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		calls++
		if calls <= failFirstN {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		results := []rawResult{
			{Success: true, ReturnData: uint64ReturnData(blockNumber)},
			{Success: true, ReturnData: reservesReturnData(111, 222)},
			{Success: true, ReturnData: slot0ReturnData(12345, 100)},
			{Success: true, ReturnData: liquidityReturnData(999)},
		}
		resultHex := "0x" + hex.EncodeToString(encodeResultsForTest(results))

		resp := map[string]interface{}{
			"id":      json.RawMessage(req.ID),
			"result":  resultHex,
			"error":   nil,
			"version": "1.1",
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func uint64ReturnData(v uint64) []byte {
	b := make([]byte, 32)
	for i := 0; i < 8; i++ {
		b[31-i] = byte(v >> (8 * i))
	}
	return b
}

func reservesReturnData(r0, r1 uint64) []byte {
	out := make([]byte, 64)
	copy(out[0:32], uint64ReturnData(r0))
	copy(out[32:64], uint64ReturnData(r1))
	return out
}

func slot0ReturnData(sqrtPriceX96 uint64, tick int32) []byte {
	out := make([]byte, 64)
	copy(out[0:32], uint64ReturnData(sqrtPriceX96))
	tb := make([]byte, 32)
	tb[28] = byte(tick >> 24)
	tb[29] = byte(tick >> 16)
	tb[30] = byte(tick >> 8)
	tb[31] = byte(tick)
	copy(out[32:64], tb)
	return out
}

func liquidityReturnData(v uint64) []byte {
	return uint64ReturnData(v)
}

func TestHTTPClient_Multicall_DecodesV2AndV3(t *testing.T) {
	srv := fakeMulticallServer(t, 1234, 0)
	defer srv.Close()

	chain := domain.Chain("base")
	client := NewHTTPClient(
		map[domain.Chain][]Endpoint{chain: {{URL: srv.URL, Aggregator: domain.Address("0x0000000000000000000000000000000000beef")}}},
		3,
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		0, 0,
		metrics.NewNop(),
	)

	reqs := []PoolCallRequest{
		{Key: domain.PoolKey{Chain: chain, Address: domain.Address("0x0000000000000000000000000000000000aaaa")}, DexKind: domain.DexV2},
		{Key: domain.PoolKey{Chain: chain, Address: domain.Address("0x0000000000000000000000000000000000bbbb")}, DexKind: domain.DexV3},
	}

	block, results, err := client.Multicall(context.Background(), chain, 0, reqs)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), block)
	require.Len(t, results, 2)

	require.True(t, results[0].Success)
	require.Equal(t, uint64(111), results[0].Reserve0.Uint64())
	require.Equal(t, uint64(222), results[0].Reserve1.Uint64())

	require.True(t, results[1].Success)
	require.Equal(t, uint64(12345), results[1].SqrtPriceX96.Uint64())
	require.Equal(t, int32(100), results[1].Tick)
	require.Equal(t, uint64(999), results[1].Liquidity.Uint64())
}

func TestHTTPClient_Multicall_RetriesThenSucceeds(t *testing.T) {
	srv := fakeMulticallServer(t, 777, 2) // fail first 2 attempts with 429
	defer srv.Close()

	chain := domain.Chain("base")
	client := NewHTTPClient(
		map[domain.Chain][]Endpoint{chain: {{URL: srv.URL, Aggregator: domain.Address("0x0000000000000000000000000000000000beef")}}},
		3,
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		0, 0,
		metrics.NewNop(),
	)

	reqs := []PoolCallRequest{
		{Key: domain.PoolKey{Chain: chain, Address: domain.Address("0x0000000000000000000000000000000000aaaa")}, DexKind: domain.DexV2},
	}

	block, results, err := client.Multicall(context.Background(), chain, 0, reqs)
	require.NoError(t, err)
	require.Equal(t, uint64(777), block)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
}

func TestHTTPClient_Multicall_UnknownProviderIndex(t *testing.T) {
	chain := domain.Chain("base")
	client := NewHTTPClient(
		map[domain.Chain][]Endpoint{chain: {{URL: "http://127.0.0.1:0", Aggregator: domain.Address("0x0000000000000000000000000000000000beef")}}},
		1, []time.Duration{time.Millisecond}, 0, 0, metrics.NewNop(),
	)
	_, _, err := client.Multicall(context.Background(), chain, 5, nil)
	require.Error(t, err)
}
