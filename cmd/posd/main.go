// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// posd runs a single proof-of-stake chain node.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/spf13/pflag"

	"github.com/luxfi/pos/api"
	"github.com/luxfi/pos/config"
	"github.com/luxfi/pos/engine"
	"github.com/luxfi/pos/genesis"
)

const (
	HTTPAddrKey    = "http-addr"
	GenesisKey     = "genesis"
	StakeKeyKey    = "stake-key"
	EpochLengthKey = "epoch-length"
	SlotMillisKey  = "slot-duration-ms"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("posd", pflag.ContinueOnError)
	flags.String(HTTPAddrKey, "127.0.0.1:9750", "Address the HTTP API listens on")
	flags.String(GenesisKey, "", "Path to the genesis JSON file (required)")
	flags.String(StakeKeyKey, "", "Staking private key; omit to run as an observer")
	flags.Uint64(EpochLengthKey, 0, "Override the epoch length in blocks")
	flags.Uint64(SlotMillisKey, 0, "Override the slot duration in milliseconds")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := log.Root()

	genesisPath, err := flags.GetString(GenesisKey)
	if err != nil {
		return err
	}
	if genesisPath == "" {
		return errors.New("--genesis is required")
	}
	genesisBytes, err := os.ReadFile(genesisPath)
	if err != nil {
		return fmt.Errorf("reading genesis: %w", err)
	}
	genesisCfg, err := genesis.Parse(genesisBytes)
	if err != nil {
		return fmt.Errorf("parsing genesis: %w", err)
	}

	cfg := config.DefaultConfig()
	if epochLength, err := flags.GetUint64(EpochLengthKey); err != nil {
		return err
	} else if epochLength != 0 {
		cfg.EpochLength = epochLength
	}
	if slotMillis, err := flags.GetUint64(SlotMillisKey); err != nil {
		return err
	} else if slotMillis != 0 {
		cfg.SlotDuration = time.Duration(slotMillis) * time.Millisecond
	}

	var stakeKey *secp256k1.PrivateKey
	if skStr, err := flags.GetString(StakeKeyKey); err != nil {
		return err
	} else if skStr != "" {
		var sk secp256k1.PrivateKey
		if err := sk.UnmarshalText([]byte(`"` + skStr + `"`)); err != nil {
			return fmt.Errorf("parsing stake key: %w", err)
		}
		stakeKey = &sk
	}

	registry := metric.NewRegistry()
	e, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         memdb.New(),
		Genesis:    genesisCfg,
		Registerer: registry,
		StakeKey:   stakeKey,
		Log:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e.Start(ctx)
	defer e.Shutdown()

	handler, err := api.NewHTTPHandler(e, logger)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/ext/pos", handler)

	httpAddr, err := flags.GetString(HTTPAddrKey)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("node started",
		"version", engine.Version,
		"httpAddr", httpAddr,
		"producing", stakeKey != nil,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
