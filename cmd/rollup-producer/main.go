// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command rollup-producer runs the produce-submit-confirm pipeline against
// an L1 RPC endpoint and a local pebble progress store.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/luxfi/log"

	"github.com/luxfi/rollup-producer/cmd/rollup-producer/config"
	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/localcells"
	"github.com/luxfi/rollup-producer/internal/psc"
	"github.com/luxfi/rollup-producer/internal/store"
)

const clientIdentifier = "rollup-producer"

var version = "dev"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "optimistic-rollup produce-submit-confirm pipeline",
	Version: version,
}

func init() {
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a config file (toml/yaml/json)"},
	}
	app.Commands = []*cli.Command{
		runCommand,
		initOnlyCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run the produce-submit-confirm pipeline until interrupted",
	Action: func(cliCtx *cli.Context) error {
		cfg, err := loadConfig(cliCtx)
		if err != nil {
			return err
		}
		configureLogging(cfg)

		pctx, closeFn, err := buildContext(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		controller := psc.NewController(pctx)
		if err := controller.Init(cliCtx.Context); err != nil {
			return fmt.Errorf("init pipeline: %w", err)
		}

		ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		serveMetrics(cfg.MetricsAddr)

		log.Info("rollup-producer pipeline starting", "data_dir", cfg.DataDir, "l1_rpc_endpoint", cfg.L1RPCEndpoint)
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		log.Info("rollup-producer pipeline stopped")
		return nil
	},
}

var initOnlyCommand = &cli.Command{
	Name:  "init-only",
	Usage: "validate the progress store's invariants and exit without running the pipeline",
	Action: func(cliCtx *cli.Context) error {
		cfg, err := loadConfig(cliCtx)
		if err != nil {
			return err
		}
		configureLogging(cfg)

		pctx, closeFn, err := buildContext(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		controller := psc.NewController(pctx)
		if err := controller.Init(cliCtx.Context); err != nil {
			return fmt.Errorf("init pipeline: %w", err)
		}
		log.Info("progress store invariants hold")
		return nil
	},
}

func loadConfig(cliCtx *cli.Context) (config.Config, error) {
	fs := pflag.NewFlagSet(clientIdentifier, pflag.ContinueOnError)
	config.BindFlags(fs)
	return config.Load(cliCtx.String("config"), fs)
}

func configureLogging(cfg config.Config) {
	if w := cfg.LogWriter(); w != nil {
		log.SetDefault(log.NewLogger(log.StreamHandler(w, log.TerminalFormat(false))))
	}
}

// buildContext wires every PSC collaborator together. The block-assembly,
// chain-validation, and mempool pieces are stand-ins (see collaborators.go)
// until an embedding application supplies its own.
func buildContext(cfg config.Config) (*psc.Context, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open progress store: %w", err)
	}

	rpcClient, err := l1client.NewJSONRPCClient(cfg.L1RPCEndpoint, nil)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("build l1 rpc client: %w", err)
	}

	pctx := &psc.Context{
		Store:         db,
		RPC:           rpcClient,
		Chain:         noopChain{},
		MemPool:       noopMemPool{},
		BlockProducer: noopBlockProducer{},
		LocalCells:    localcells.New(),
	}
	return pctx, func() { _ = db.Close() }, nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
}
