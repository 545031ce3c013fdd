// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command infinitune-server runs the generation server: pipeline, rooms and
// the HTTP control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/server"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("infinitune-server %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "infinitune-server",
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg)
	app, err := server.NewApp(holder)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	logger.Info().
		Str("event", "server.boot").
		Str("version", version).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting generation server")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}
