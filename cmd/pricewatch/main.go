// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// pricewatch is a standalone live USD spot-price hot-path engine for
// on-chain tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/luxfi/log"
	"github.com/luxfi/pricewatch/config"
	"github.com/luxfi/pricewatch/internal/app"
)

const clientIdentifier = "pricewatch"

var defaults = config.Default()

var appFlags = []cli.Flag{
	&cli.StringSliceFlag{Name: "chains", Usage: "chains to price, e.g. --chains=base,arbitrum"},
	&cli.StringFlag{Name: "config", Usage: "path to a YAML/JSON config file carrying the endpoints section"},
	&cli.DurationFlag{Name: "collection-window", Value: defaults.CollectionWindow},
	&cli.IntFlag{Name: "flush-threshold", Value: defaults.FlushThreshold},
	&cli.IntFlag{Name: "max-weight-per-batch", Value: defaults.MaxWeightPerBatch},
	&cli.IntFlag{Name: "provider-count", Value: defaults.ProviderCount},
	&cli.IntFlag{Name: "retry-attempts", Value: defaults.RetryAttempts},
	&cli.DurationFlag{Name: "grace-period", Value: defaults.GracePeriod},
	&cli.DurationFlag{Name: "gc-interval", Value: defaults.GCInterval},
	&cli.DurationFlag{Name: "state-ttl", Value: defaults.StateTTL},
	&cli.StringFlag{Name: "log-level", Value: "info"},
}

var cliApp = &cli.App{
	Name:    clientIdentifier,
	Usage:   "live USD spot-price hot-path pricing engine for on-chain tokens",
	Version: "0.1.0",
	Flags:   appFlags,
	Before: func(ctx *cli.Context) error {
		lvl, err := log.LvlFromString(ctx.String("log-level"))
		if err != nil {
			return fmt.Errorf("pricewatch: invalid --log-level: %w", err)
		}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
		return nil
	},
	Action: run,
}

func main() {
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	v := viper.New()
	if path := ctx.String("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("pricewatch: reading --config: %w", err)
		}
	}

	if chains := ctx.StringSlice("chains"); len(chains) > 0 {
		v.Set("chains", chains)
	}
	v.Set("collection-window", ctx.Duration("collection-window"))
	v.Set("flush-threshold", ctx.Int("flush-threshold"))
	v.Set("max-weight-per-batch", ctx.Int("max-weight-per-batch"))
	v.Set("provider-count", ctx.Int("provider-count"))
	v.Set("retry-attempts", ctx.Int("retry-attempts"))
	v.Set("grace-period", ctx.Duration("grace-period"))
	v.Set("gc-interval", ctx.Duration("gc-interval"))
	v.Set("state-ttl", ctx.Duration("state-ttl"))

	cfg, err := config.LoadFromViper(v)
	if err != nil {
		return fmt.Errorf("pricewatch: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("pricewatch: %w", err)
	}

	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application.Start()
	defer func() {
		if err := application.Stop(cfg.ShutdownDeadline); err != nil {
			log.Error("pricewatch shutdown error", "err", err)
		}
	}()

	log.Info("pricewatch running", "chains", cfg.Chains)
	<-sigCtx.Done()
	log.Info("pricewatch received shutdown signal")
	return nil
}
