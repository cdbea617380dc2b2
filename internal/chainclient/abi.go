// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/luxfi/pricewatch/internal/domain"
)

// Well-known, stable 4-byte selectors. These are standard method IDs
// (Multicall3, Uniswap v2 pair, Uniswap v3 pool) and are hardcoded
// rather than derived from a Keccak-256 of the signature, the same way
// production RPC clients in this ecosystem hardcode method IDs instead
// of computing them at runtime.
var (
	selAggregate3     = mustSel("82ad56cb") // aggregate3((address,bool,bytes)[])
	selGetBlockNumber = mustSel("42cbb15c") // getBlockNumber()
	selGetReserves    = mustSel("0902f1ac") // getReserves() (Uniswap v2 pair)
	selSlot0          = mustSel("3850c7bd") // slot0() (Uniswap v3 pool)
	selLiquidity      = mustSel("1a686502") // liquidity() (Uniswap v3 pool)
)

func mustSel(hexStr string) [4]byte {
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != 4 {
		panic("chainclient: bad selector literal " + hexStr)
	}
	var out [4]byte
	copy(out[:], b)
	return out
}

// call3 mirrors Multicall3.Call3: (address target, bool allowFailure, bytes callData).
type call3 struct {
	Target       domain.Address
	AllowFailure bool
	CallData     []byte
}

// rawResult mirrors Multicall3.Result: (bool success, bytes returnData).
type rawResult struct {
	Success    bool
	ReturnData []byte
}

func word(n uint64) []byte {
	w := make([]byte, 32)
	binary.BigEndian.PutUint64(w[24:], n)
	return w
}

func padRight(b []byte) []byte {
	rem := len(b) % 32
	if rem == 0 {
		return b
	}
	return append(b, make([]byte, 32-rem)...)
}

func addressWord(a domain.Address) ([]byte, error) {
	s := strings.TrimPrefix(string(a), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return nil, fmt.Errorf("chainclient: invalid address %q", a)
	}
	w := make([]byte, 32)
	copy(w[12:], b)
	return w, nil
}

func boolWord(b bool) []byte {
	w := make([]byte, 32)
	if b {
		w[31] = 1
	}
	return w
}

// encodeTuple ABI-encodes one Call3 tuple as a self-contained
// head(3 words)+tail(bytes) blob, per the Solidity ABI spec for a
// dynamic-tuple element.
func encodeTuple(c call3) ([]byte, error) {
	addrW, err := addressWord(c.Target)
	if err != nil {
		return nil, err
	}
	head := append([]byte{}, addrW...)
	head = append(head, boolWord(c.AllowFailure)...)
	head = append(head, word(96)...) // offset to bytes data: always 3 words = 96 bytes

	tail := append([]byte{}, word(uint64(len(c.CallData)))...)
	tail = append(tail, padRight(c.CallData)...)

	return append(head, tail...), nil
}

// encodeAggregate3 builds the full calldata (selector + args) for
// Multicall3.aggregate3(Call3[] calls).
func encodeAggregate3(calls []call3) ([]byte, error) {
	tuples := make([][]byte, len(calls))
	for i, c := range calls {
		t, err := encodeTuple(c)
		if err != nil {
			return nil, fmt.Errorf("chainclient: encoding call %d: %w", i, err)
		}
		tuples[i] = t
	}

	// Element offsets are relative to the start of the array's data
	// section (i.e. right after the length word).
	elementsHeadLen := uint64(len(tuples)) * 32
	offsets := make([][]byte, len(tuples))
	running := elementsHeadLen
	for i, t := range tuples {
		offsets[i] = word(running)
		running += uint64(len(t))
	}

	arrayData := append([]byte{}, word(uint64(len(tuples)))...)
	for _, o := range offsets {
		arrayData = append(arrayData, o...)
	}
	for _, t := range tuples {
		arrayData = append(arrayData, t...)
	}

	out := append([]byte{}, selAggregate3[:]...)
	out = append(out, word(32)...) // single dynamic param: head offset = 0x20
	out = append(out, arrayData...)
	return out, nil
}

func readUintAt(data []byte, pos uint64) (uint64, error) {
	if pos+32 > uint64(len(data)) {
		return 0, fmt.Errorf("chainclient: abi decode out of range at %d", pos)
	}
	return binary.BigEndian.Uint64(data[pos+24 : pos+32]), nil
}

// decodeAggregate3Result decodes the (Result[] memory) return value of
// aggregate3, in call order.
func decodeAggregate3Result(data []byte) ([]rawResult, error) {
	arrayOff, err := readUintAt(data, 0)
	if err != nil {
		return nil, err
	}
	n, err := readUintAt(data, arrayOff)
	if err != nil {
		return nil, err
	}
	elementsStart := arrayOff + 32

	out := make([]rawResult, n)
	for i := uint64(0); i < n; i++ {
		elemOff, err := readUintAt(data, elementsStart+i*32)
		if err != nil {
			return nil, err
		}
		tupleStart := elementsStart + elemOff

		successOff, err := readUintAt(data, tupleStart)
		if err != nil {
			return nil, err
		}
		bytesOff, err := readUintAt(data, tupleStart+32)
		if err != nil {
			return nil, err
		}
		bytesLenPos := tupleStart + bytesOff
		blen, err := readUintAt(data, bytesLenPos)
		if err != nil {
			return nil, err
		}
		start := bytesLenPos + 32
		end := start + blen
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("chainclient: abi decode: returnData out of range")
		}
		out[i] = rawResult{
			Success:    successOff != 0,
			ReturnData: data[start:end],
		}
	}
	return out, nil
}
