// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import "errors"

// ErrRateLimited and ErrNetworkTransient mark whole-batch failures that
// HTTPClient.Multicall retries with backoff (spec §4.4, §8
// "Retry/backoff"). Any other transport error is retried the same way:
// the distinction exists for logging, not for control flow.
var (
	ErrRateLimited      = errors.New("chainclient: provider rate limited the request")
	ErrNetworkTransient = errors.New("chainclient: transient network error")
)

// DecodeError marks a single pool's return data as malformed. Per spec
// §4.4 ("an individual pool decode failure marks only that pool as
// failed"), a DecodeError never fails the whole Multicall.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "chainclient: decode error: " + e.Reason
}
