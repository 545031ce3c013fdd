// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RuntimePaths are the daemon's on-disk coordination files.
type RuntimePaths struct {
	Socket  string
	PID     string
	Session string
}

// DefaultRuntimePaths derives socket, pid and session locations, preferring
// the user runtime dir.
func DefaultRuntimePaths(cfg config.Daemon) RuntimePaths {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
	}
	p := RuntimePaths{
		Socket:  cfg.SocketPath,
		PID:     cfg.PIDPath,
		Session: cfg.SessionPath,
	}
	if p.Socket == "" {
		p.Socket = filepath.Join(base, "infinitune.sock")
	}
	if p.PID == "" {
		p.PID = filepath.Join(base, "infinitune.pid")
	}
	if p.Session == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = base
		}
		p.Session = filepath.Join(home, ".local", "state", "infinitune", "session.json")
	}
	return p
}

// App is the daemon process: engine, controller, IPC socket and status HTTP.
type App struct {
	cfg    config.Daemon
	paths  RuntimePaths
	engine Engine
	ctrl   *Controller
	ipc    *IPCServer
	status *http.Server
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewApp assembles the daemon around the given engine.
func NewApp(cfg config.Daemon, engine Engine) (*App, error) {
	paths := DefaultRuntimePaths(cfg)
	if err := os.MkdirAll(filepath.Dir(paths.Session), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create state dir: %w", err)
	}

	a := &App{
		cfg:    cfg,
		paths:  paths,
		engine: engine,
		logger: log.WithComponent("daemon.app"),
	}
	a.ctrl = NewController(cfg, engine, paths.Session, func() {
		if a.cancel != nil {
			a.cancel()
		}
	})
	a.ipc = NewIPCServer(a.ctrl, cfg.IPCTimeout)
	a.status = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.StatusHost, cfg.StatusPort),
		Handler:           NewStatusHTTP(a.ctrl).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Run serves until ctx ends or a shutdown is requested over IPC.
func (a *App) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	defer cancel()

	if err := WritePIDFile(a.paths.PID); err != nil {
		return err
	}
	defer RemovePIDFile(a.paths.PID)

	if err := a.ipc.Listen(a.paths.Socket); err != nil {
		return err
	}
	defer func() { _ = os.Remove(a.paths.Socket) }()

	ln, err := net.Listen("tcp", a.status.Addr)
	if err != nil {
		a.ipc.Close()
		return fmt.Errorf("daemon: status listen %s: %w", a.status.Addr, err)
	}

	if err := a.ctrl.Start(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("session resume failed, starting idle")
	}
	a.logger.Info().
		Str("event", "daemon.started").
		Str("socket", a.paths.Socket).
		Str("status_addr", ln.Addr().String()).
		Msg("daemon running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ipc.Serve(gctx)
	})
	g.Go(func() error {
		if err := a.status.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Shutdown order: active mode first, then engine, then servers.
		a.ctrl.Stop()
		_ = a.engine.Close()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		_ = a.status.Shutdown(shutCtx)
		a.ipc.Close()
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
	return nil
}

// SocketPath returns the bound control socket path.
func (a *App) SocketPath() string { return a.paths.Socket }
