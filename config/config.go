// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunable constants of spec §6, loaded through
// spf13/pflag + spf13/viper the way cmd/evm-node/main.go layers flags
// over config in the teacher.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ProviderEndpoint is one upstream RPC URL and the Multicall3 aggregator
// address deployed on that chain, loaded from the "endpoints" section of
// a config file (there is no sane CLI-flag shape for a per-chain list of
// provider URLs, so this is the one setting pflag doesn't bind).
type ProviderEndpoint struct {
	URL        string `mapstructure:"url"`
	Aggregator string `mapstructure:"aggregator"`
}

// Config is the full set of hot-path tunables. Every field has a spec
// default; the errors this package produces come from LoadFromViper and
// Validate (no chains, a bad endpoints section, too few endpoints or
// backoff entries), and the entrypoint treats them as fatal at startup
// (spec §7).
type Config struct {
	// Chains this instance prices. Exactly two in production (spec §1),
	// but the engine itself is chain-count agnostic.
	Chains []string

	// Endpoints maps chain name -> ordered list of providers (index i is
	// providerIndex i throughout the engine).
	Endpoints map[string][]ProviderEndpoint

	CollectionWindow time.Duration
	FlushThreshold   int
	MaxWeightPerBatch int

	TierRefresh map[string]time.Duration // "high","normal","low"
	TierThresholds struct {
		High   float64
		Normal float64
	}

	FailureRetry   time.Duration
	RetryAttempts  int
	RetryBackoff   []time.Duration

	GracePeriod  time.Duration
	GCInterval   time.Duration
	StateTTL     time.Duration

	ProviderCount    int
	BatchDeadline    time.Duration
	ShutdownDeadline time.Duration
}

// Default returns the spec §6 defaults.
func Default() *Config {
	return &Config{
		Chains:            nil,
		Endpoints:         make(map[string][]ProviderEndpoint),
		CollectionWindow:  150 * time.Millisecond,
		FlushThreshold:    10,
		MaxWeightPerBatch: 50,
		TierRefresh: map[string]time.Duration{
			"high":   5 * time.Second,
			"normal": 10 * time.Second,
			"low":    30 * time.Second,
		},
		TierThresholds: struct {
			High   float64
			Normal float64
		}{High: 0.05, Normal: 0.001},
		FailureRetry:  5 * time.Second,
		RetryAttempts: 3,
		RetryBackoff: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
		},
		GracePeriod:      10 * time.Second,
		GCInterval:       10 * time.Second,
		StateTTL:         30 * time.Second,
		ProviderCount:    1,
		BatchDeadline:    5 * time.Second,
		ShutdownDeadline: 2 * time.Second,
	}
}

// BindFlags registers the config's flags against fs, mirroring
// cmd/evm-node/main.go's use of pflag/urfave-cli flags for a standalone
// service binary.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringSlice("chains", c.Chains, "chains to price, e.g. --chains=base,arbitrum")
	fs.Duration("collection-window", c.CollectionWindow, "scheduler collection-window duration")
	fs.Int("flush-threshold", c.FlushThreshold, "pending pools that force an early flush")
	fs.Int("max-weight-per-batch", c.MaxWeightPerBatch, "weight cap per on-chain batch")
	fs.Duration("tier-high-refresh", c.TierRefresh["high"], "refresh cadence for the high tier")
	fs.Duration("tier-normal-refresh", c.TierRefresh["normal"], "refresh cadence for the normal tier")
	fs.Duration("tier-low-refresh", c.TierRefresh["low"], "refresh cadence for the low tier")
	fs.Float64("tier-high-threshold", c.TierThresholds.High, "price-delta fraction promoting a pool to the high tier")
	fs.Float64("tier-normal-threshold", c.TierThresholds.Normal, "price-delta fraction promoting a pool to the normal tier")
	fs.Duration("failure-retry", c.FailureRetry, "reschedule delay after an exhausted-retry batch failure")
	fs.Int("retry-attempts", c.RetryAttempts, "chain client retry attempts per batch")
	fs.Duration("grace-period", c.GracePeriod, "refCount==0 grace period before GC eligibility")
	fs.Duration("gc-interval", c.GCInterval, "GC sweep cadence")
	fs.Duration("state-ttl", c.StateTTL, "age after which Price treats a pool's cached state as not ready (cached state is not evicted by this TTL)")
	fs.Int("provider-count", c.ProviderCount, "number of upstream RPC providers to round-robin across")
	fs.Duration("batch-deadline", c.BatchDeadline, "per-batch network deadline")
}

// LoadFromViper overlays values bound via BindFlags (and any config
// file/env viper was set up with) onto a fresh Default().
func LoadFromViper(v *viper.Viper) (*Config, error) {
	c := Default()
	if chains := v.GetStringSlice("chains"); len(chains) > 0 {
		c.Chains = chains
	}
	if d := v.GetDuration("collection-window"); d > 0 {
		c.CollectionWindow = d
	}
	if n := v.GetInt("flush-threshold"); n > 0 {
		c.FlushThreshold = n
	}
	if n := v.GetInt("max-weight-per-batch"); n > 0 {
		c.MaxWeightPerBatch = n
	}
	if d := v.GetDuration("tier-high-refresh"); d > 0 {
		c.TierRefresh["high"] = d
	}
	if d := v.GetDuration("tier-normal-refresh"); d > 0 {
		c.TierRefresh["normal"] = d
	}
	if d := v.GetDuration("tier-low-refresh"); d > 0 {
		c.TierRefresh["low"] = d
	}
	if f := v.GetFloat64("tier-high-threshold"); f > 0 {
		c.TierThresholds.High = f
	}
	if f := v.GetFloat64("tier-normal-threshold"); f > 0 {
		c.TierThresholds.Normal = f
	}
	if d := v.GetDuration("failure-retry"); d > 0 {
		c.FailureRetry = d
	}
	if n := v.GetInt("retry-attempts"); n > 0 {
		c.RetryAttempts = n
	}
	if d := v.GetDuration("grace-period"); d > 0 {
		c.GracePeriod = d
	}
	if d := v.GetDuration("gc-interval"); d > 0 {
		c.GCInterval = d
	}
	if d := v.GetDuration("state-ttl"); d > 0 {
		c.StateTTL = d
	}
	if n := v.GetInt("provider-count"); n > 0 {
		c.ProviderCount = n
	}
	if d := v.GetDuration("batch-deadline"); d > 0 {
		c.BatchDeadline = d
	}
	if v.IsSet("endpoints") {
		var endpoints map[string][]ProviderEndpoint
		if err := v.UnmarshalKey("endpoints", &endpoints); err != nil {
			return nil, fmt.Errorf("config: parsing endpoints: %w", err)
		}
		c.Endpoints = endpoints
	}
	return c, c.Validate()
}

// Validate implements the fatal-at-startup UnknownChain check of spec §7:
// an empty chain list is a configuration error, never a runtime one.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: no chains configured")
	}
	if c.ProviderCount < 1 {
		return fmt.Errorf("config: provider-count must be >= 1, got %d", c.ProviderCount)
	}
	if len(c.RetryBackoff) < c.RetryAttempts {
		return fmt.Errorf("config: retry-backoff has %d entries, need >= retry-attempts (%d)", len(c.RetryBackoff), c.RetryAttempts)
	}
	for _, chain := range c.Chains {
		if len(c.Endpoints[chain]) < c.ProviderCount {
			return fmt.Errorf("config: chain %q has %d endpoints configured, need >= provider-count (%d)", chain, len(c.Endpoints[chain]), c.ProviderCount)
		}
	}
	return nil
}
