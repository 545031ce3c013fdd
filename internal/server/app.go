// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/bus"
	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/fsutil"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/pipeline"
	"github.com/beastyrabbit/infinitune-sub001/internal/providers"
	"github.com/beastyrabbit/infinitune-sub001/internal/queue"
	"github.com/beastyrabbit/infinitune-sub001/internal/room"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App assembles the generation server: data service, provider queues,
// playlist supervisor, room hub and HTTP ingress.
type App struct {
	cfg     *config.Holder
	store   store.Store
	bus     bus.Bus
	queues  *queue.Set
	sup     *pipeline.Supervisor
	hub     *room.Hub
	storage *fsutil.Root
	srv     *http.Server
	logger  zerolog.Logger
}

// NewApp wires all components from the configuration snapshot.
func NewApp(holder *config.Holder) (*App, error) {
	cfg := holder.Get()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create data dir: %w", err)
	}
	storage, err := fsutil.NewRoot(cfg.Server.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("server: storage root: %w", err)
	}

	b := bus.NewMemoryBus()
	st, err := store.NewSQLiteStore(filepath.Join(cfg.Server.DataDir, "infinitune.db"), b)
	if err != nil {
		return nil, err
	}

	gen := cfg.Generation
	provs := providers.Set{
		LLM:   providers.NewLLMClient(gen.LLMBaseURL, gen.LLMModel, gen.LLMTimeout),
		Image: providers.NewImageClient(gen.ImageBaseURL, 2*time.Minute),
		Audio: providers.NewAudioClient(gen.AudioBaseURL, gen.AudioSubmitTimeout),
	}
	queues := &queue.Set{
		LLM:   queue.New("llm", gen.LLMConcurrency),
		Image: queue.New("image", gen.ImageConcurrency),
		Audio: queue.NewAudioQueue(provs.Audio, gen.AudioPollInterval, gen.NotFoundGrace),
	}

	deps := pipeline.Deps{
		Store:     st,
		Queues:    queues,
		Providers: provs,
		Storage:   storage,
		Config:    holder,
	}
	sup := pipeline.NewSupervisor(deps, b)
	hub := room.NewHub(st, cfg.Rooms)

	app := &App{
		cfg:     holder,
		store:   st,
		bus:     b,
		queues:  queues,
		sup:     sup,
		hub:     hub,
		storage: storage,
		logger:  log.WithComponent("server.app"),
	}
	router := NewRouter(RouterDeps{
		Handlers: NewHandlers(st, sup),
		Hub:      hub,
		Storage:  storage,
	})
	app.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Run serves until ctx is cancelled, then shuts down in dependency order.
func (a *App) Run(ctx context.Context) error {
	if err := a.cfg.StartWatcher(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", a.srv.Addr, err)
	}
	a.logger.Info().
		Str("event", "server.started").
		Str("addr", ln.Addr().String()).
		Msg("listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.queues.Audio.Run(gctx)
	})
	g.Go(func() error {
		return a.sup.Run(gctx)
	})
	g.Go(func() error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutCtx)
		a.hub.Close()
		a.queues.Stop()
		return nil
	})

	err = g.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		a.logger.Warn().Err(closeErr).Msg("store close failed")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Str("event", "server.stopped").Msg("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (a *App) Addr() string { return a.srv.Addr }
