// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	rpc "github.com/gorilla/rpc/v2/json2"
)

// jsonRPCTransport sends a single eth_call over HTTP JSON-RPC, the same
// gorilla/rpc/v2/json2 request/response shape utils/rpc/json.go used for
// node-to-node RPC; here it carries eth_call instead.
type jsonRPCTransport struct {
	endpoint   string
	httpClient *http.Client
}

func newJSONRPCTransport(endpoint string, hc *http.Client) *jsonRPCTransport {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &jsonRPCTransport{endpoint: endpoint, httpClient: hc}
}

type ethCallObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// ethCall performs eth_call(callObject, "latest") against a single
// target contract and returns the raw decoded return data.
func (t *jsonRPCTransport) ethCall(ctx context.Context, to string, calldata []byte) ([]byte, error) {
	uri, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid endpoint %q: %w", t.endpoint, err)
	}

	params := []interface{}{
		ethCallObject{To: to, Data: "0x" + hex.EncodeToString(calldata)},
		"latest",
	}
	bodyBytes, err := rpc.EncodeClientRequest("eth_call", params)
	if err != nil {
		return nil, fmt.Errorf("chainclient: encoding eth_call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("chainclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrNetworkTransient, resp.StatusCode)
	}

	var reply string
	if err := rpc.DecodeClientResponse(resp.Body, &reply); err != nil {
		return nil, fmt.Errorf("%w: decoding eth_call response: %v", ErrNetworkTransient, err)
	}

	return hex.DecodeString(strings.TrimPrefix(reply, "0x"))
}

// drainAndClose drains and closes an HTTP response body to let the
// transport reuse the connection instead of tearing it down, avoiding
// the spurious HTTP/2 GOAWAY this causes when bodies are closed with
// unread data (golang/go#46071).
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
