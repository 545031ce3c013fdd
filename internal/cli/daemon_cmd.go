// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/daemon"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
)

func runDaemonCmd(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: infinitune daemon run|start|stop|status")
		return 2
	}
	switch args[0] {
	case "run":
		return runDaemonForeground(cfg, paths)
	case "start":
		return runDaemonStart(cfg, paths)
	case "stop":
		return runDaemonStop(cfg, paths)
	case "status":
		return runStatus(cfg, paths)
	default:
		fmt.Fprintf(os.Stderr, "Unknown daemon command: %s\n", args[0])
		return 2
	}
}

// runDaemonForeground is the daemon process itself: engine, controller, IPC
// socket and status endpoint, serving until a signal or an IPC shutdown.
func runDaemonForeground(cfg config.Config, paths daemon.RuntimePaths) int {
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "infinitune-daemon"})
	logger := log.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := buildEngine(ctx, cfg.Daemon)
	if err != nil {
		logger.Error().Err(err).Msg("engine start failed")
		return 1
	}

	app, err := daemon.NewApp(cfg.Daemon, engine)
	if err != nil {
		_ = engine.Close()
		logger.Error().Err(err).Msg("daemon setup failed")
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	return 0
}

// buildEngine picks the playback backend. INFINITUNE_ENGINE=mock swaps in the
// in-memory engine for development without mpv installed.
func buildEngine(ctx context.Context, cfg config.Daemon) (daemon.Engine, error) {
	if os.Getenv("INFINITUNE_ENGINE") == "mock" {
		return daemon.NewMockEngine(), nil
	}
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		runDir = os.TempDir()
	}
	return daemon.StartMPV(ctx, cfg.MPVBinary, runDir)
}

func runDaemonStart(cfg config.Config, paths daemon.RuntimePaths) int {
	if c, err := Dial(paths.Socket, cfg.Daemon.IPCTimeout); err == nil {
		_ = c.Close()
		fmt.Println("daemon already running")
		return 0
	}
	c, err := EnsureDaemon(paths.Socket, cfg.Daemon.IPCTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()
	fmt.Printf("daemon started on %s\n", paths.Socket)
	return 0
}

func runDaemonStop(cfg config.Config, paths daemon.RuntimePaths) int {
	c, err := Dial(paths.Socket, cfg.Daemon.IPCTimeout)
	if err != nil {
		fmt.Println("daemon: not running")
		return 0
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Call("shutdown", nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// The socket disappears once the daemon finishes shutting down.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(paths.Socket); os.IsNotExist(err) {
			fmt.Println("daemon stopped")
			return 0
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Println("shutdown requested")
	return 0
}
