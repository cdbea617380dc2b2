// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package statestore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/pricewatch/internal/domain"
)

// Wire layout, fixed width per DexKind so Get/Put never allocate more
// than one buffer. Addresses are stored as their "0x"+40-hex-char ASCII
// form, zero-padded to addrLen bytes.
//
//	[0]                 dexKind (0=v2, 1=v3)
//	[1:1+addrLen]       token0
//	[+addrLen]          token1
//	[+8]                blockNumber (uint64 BE)
//	[+8]                observedAt unix-nano (int64 BE)
//	v2: reserve0 (32B), reserve1 (32B)
//	v3: sqrtPriceX96 (32B), tick (int32 BE), liquidity (32B)
const (
	addrLen   = 42
	headerLen = 1 + addrLen + addrLen + 8 + 8
	v2Len     = headerLen + 32 + 32
	v3Len     = headerLen + 32 + 4 + 32
)

func putAddr(buf []byte, a domain.Address) {
	s := string(a)
	if len(s) > addrLen {
		s = s[:addrLen]
	}
	copy(buf, s)
	for i := len(s); i < addrLen; i++ {
		buf[i] = 0
	}
}

func getAddr(buf []byte) domain.Address {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return domain.Address(string(buf[:n]))
}

func encode(s PoolState) []byte {
	var buf []byte
	if s.DexKind == domain.DexV3 {
		buf = make([]byte, v3Len)
	} else {
		buf = make([]byte, v2Len)
	}

	buf[0] = byte(s.DexKind)
	off := 1
	putAddr(buf[off:off+addrLen], s.Token0)
	off += addrLen
	putAddr(buf[off:off+addrLen], s.Token1)
	off += addrLen
	binary.BigEndian.PutUint64(buf[off:off+8], s.BlockNumber)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(s.ObservedAt.UnixNano()))
	off += 8

	switch s.DexKind {
	case domain.DexV3:
		sp := s.SqrtPriceX96
		if sp == nil {
			sp = zeroU256()
		}
		b := sp.Bytes32()
		copy(buf[off:off+32], b[:])
		off += 32
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(s.Tick))
		off += 4
		lq := s.Liquidity
		if lq == nil {
			lq = zeroU256()
		}
		lb := lq.Bytes32()
		copy(buf[off:off+32], lb[:])
	default:
		r0 := s.Reserve0
		if r0 == nil {
			r0 = zeroU256()
		}
		b0 := r0.Bytes32()
		copy(buf[off:off+32], b0[:])
		off += 32
		r1 := s.Reserve1
		if r1 == nil {
			r1 = zeroU256()
		}
		b1 := r1.Bytes32()
		copy(buf[off:off+32], b1[:])
	}
	return buf
}

func decode(buf []byte) (PoolState, error) {
	if len(buf) < headerLen {
		return PoolState{}, fmt.Errorf("statestore: truncated record (%d bytes)", len(buf))
	}
	var s PoolState
	s.DexKind = domain.DexV2
	if buf[0] == byte(domain.DexV3) {
		s.DexKind = domain.DexV3
	}
	off := 1
	s.Token0 = getAddr(buf[off : off+addrLen])
	off += addrLen
	s.Token1 = getAddr(buf[off : off+addrLen])
	off += addrLen
	s.BlockNumber = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	s.ObservedAt = time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:off+8])))
	off += 8

	switch s.DexKind {
	case domain.DexV3:
		if len(buf) < v3Len {
			return PoolState{}, fmt.Errorf("statestore: truncated v3 record (%d bytes)", len(buf))
		}
		sp := new(uint256.Int).SetBytes(buf[off : off+32])
		off += 32
		tick := int32(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		lq := new(uint256.Int).SetBytes(buf[off : off+32])
		s.SqrtPriceX96 = sp
		s.Tick = signExtend24(tick)
		s.Liquidity = lq
	default:
		if len(buf) < v2Len {
			return PoolState{}, fmt.Errorf("statestore: truncated v2 record (%d bytes)", len(buf))
		}
		r0 := new(uint256.Int).SetBytes(buf[off : off+32])
		off += 32
		r1 := new(uint256.Int).SetBytes(buf[off : off+32])
		s.Reserve0 = r0
		s.Reserve1 = r1
	}
	return s, nil
}

// signExtend24 treats the low 24 bits of v as a signed int24 and
// sign-extends it into an int32, since Uniswap v3's tick is int24.
func signExtend24(v int32) int32 {
	v &= 0x00FFFFFF
	if v&0x00800000 != 0 {
		v |= ^int32(0x00FFFFFF)
	}
	return v
}
