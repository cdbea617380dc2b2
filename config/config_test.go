// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefault_FailsValidationWithoutChains(t *testing.T) {
	require.Error(t, Default().Validate())
}

func TestDefault_ValidWithChainsAndEndpoints(t *testing.T) {
	c := Default()
	c.Chains = []string{"base"}
	c.Endpoints = map[string][]ProviderEndpoint{"base": {{URL: "http://x", Aggregator: "0xabc"}}}
	require.NoError(t, c.Validate())
}

func TestValidate_RejectsTooFewProviderEndpoints(t *testing.T) {
	c := Default()
	c.Chains = []string{"base"}
	c.ProviderCount = 2
	c.Endpoints = map[string][]ProviderEndpoint{"base": {{URL: "http://x", Aggregator: "0xabc"}}}
	require.Error(t, c.Validate())
}

func TestValidate_RejectsShortRetryBackoff(t *testing.T) {
	c := Default()
	c.Chains = []string{"base"}
	c.Endpoints = map[string][]ProviderEndpoint{"base": {{URL: "http://x"}}}
	c.RetryAttempts = 5
	c.RetryBackoff = []time.Duration{time.Second}
	require.Error(t, c.Validate())
}

func TestLoadFromViper_OverlaysDefaults(t *testing.T) {
	v := viper.New()
	v.Set("chains", []string{"base", "arbitrum"})
	v.Set("flush-threshold", 25)
	v.Set("endpoints", map[string]interface{}{
		"base":      []interface{}{map[string]interface{}{"url": "http://base", "aggregator": "0xaaa"}},
		"arbitrum": []interface{}{map[string]interface{}{"url": "http://arb", "aggregator": "0xbbb"}},
	})

	c, err := LoadFromViper(v)
	require.NoError(t, err)
	require.Equal(t, []string{"base", "arbitrum"}, c.Chains)
	require.Equal(t, 25, c.FlushThreshold)
	require.Equal(t, "http://base", c.Endpoints["base"][0].URL)
	require.Equal(t, "0xbbb", c.Endpoints["arbitrum"][0].Aggregator)
}
