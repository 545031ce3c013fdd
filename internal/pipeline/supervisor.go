// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/bus"
	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Supervisor owns the per-playlist buffer and epoch policy and the lifecycle
// of song workers. One instance runs per process.
type Supervisor struct {
	deps Deps
	bus  bus.Bus

	mu      sync.Mutex
	workers map[string]context.CancelFunc // songID -> cancel
	wg      sync.WaitGroup

	bufferMu sync.Mutex
	locks    map[string]*sync.Mutex // playlistID -> buffer lock

	sweepInterval time.Duration
	logger        zerolog.Logger
}

func NewSupervisor(deps Deps, b bus.Bus) *Supervisor {
	return &Supervisor{
		deps:          deps,
		bus:           b,
		workers:       make(map[string]context.CancelFunc),
		locks:         make(map[string]*sync.Mutex),
		sweepInterval: 5 * time.Second,
		logger:        log.WithComponent("pipeline.supervisor"),
	}
}

// Run performs the startup sweep, then serves events and periodic sweeps
// until ctx is done. Workers are drained before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.startupSweep(ctx); err != nil {
		return err
	}

	cfgCh := make(chan config.Config, 1)
	s.deps.Config.RegisterListener(cfgCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.eventLoop(gctx) })
	g.Go(func() error { return s.sweepLoop(gctx) })
	g.Go(func() error { return s.personaLoop(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case cfg := <-cfgCh:
				s.deps.Queues.LLM.RefreshConcurrency(cfg.Generation.LLMConcurrency)
				s.deps.Queues.Image.RefreshConcurrency(cfg.Generation.ImageConcurrency)
			}
		}
	})

	err := g.Wait()
	s.cancelAllWorkers()
	s.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// --- workers ---

// Spawn starts a worker for the song unless one is already live.
func (s *Supervisor) Spawn(ctx context.Context, songID string) {
	s.mu.Lock()
	if _, live := s.workers[songID]; live {
		s.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	s.workers[songID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.workers, songID)
			s.mu.Unlock()
		}()
		if err := NewWorker(s.deps, songID).Run(wctx); err != nil &&
			!errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).
				Str(log.FieldSongID, songID).
				Msg("song worker failed")
		}
	}()
}

// CancelSong aborts the worker and revokes queue items; the row stays.
func (s *Supervisor) CancelSong(songID string) {
	s.mu.Lock()
	cancel, live := s.workers[songID]
	s.mu.Unlock()
	if live {
		cancel()
	}
	s.deps.Queues.CancelSong(songID)
}

func (s *Supervisor) cancelAllWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.workers {
		cancel()
	}
}

func (s *Supervisor) bufferLock(playlistID string) *sync.Mutex {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()
	l, ok := s.locks[playlistID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playlistID] = l
	}
	return l
}

// --- event handling ---

func (s *Supervisor) eventLoop(ctx context.Context) error {
	topics := []string{
		model.TopicSongCreated,
		model.TopicSongStatusChanged,
		model.TopicPlaylistCreated,
		model.TopicPlaylistSteered,
		model.TopicPlaylistDeleted,
	}
	subs := make([]bus.Subscriber, 0, len(topics))
	for _, topic := range topics {
		sub, err := s.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		defer func() { _ = sub.Close() }()
	}

	merged := make(chan bus.Message, 64)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub bus.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.C():
					if !ok {
						return
					}
					select {
					case merged <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-merged:
			s.handleEvent(ctx, msg)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, msg bus.Message) {
	switch ev := msg.(type) {
	case model.SongCreatedEvent:
		s.Spawn(ctx, ev.SongID)
	case model.SongStatusChangedEvent:
		if ev.To == model.SongRetryPending {
			s.Spawn(ctx, ev.SongID)
		}
		if ev.To == model.SongReady {
			s.onSongReady(ctx, ev.PlaylistID)
		}
	case model.PlaylistSteeredEvent:
		s.handleSteer(ctx, ev)
	case model.PlaylistDeletedEvent:
		s.bufferMu.Lock()
		delete(s.locks, ev.PlaylistID)
		s.bufferMu.Unlock()
	}
}

// onSongReady closes oneshot playlists once their single song lands.
func (s *Supervisor) onSongReady(ctx context.Context, playlistID string) {
	pl, err := s.deps.Store.GetPlaylist(ctx, playlistID)
	if err != nil || pl.Mode != model.ModeOneshot || pl.Status != model.PlaylistActive {
		return
	}
	if err := s.deps.Store.UpdatePlaylistStatus(ctx, playlistID, model.PlaylistClosing); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldPlaylistID, playlistID).
			Msg("oneshot close failed")
	}
}

// handleSteer applies the epoch discipline: purge stale pending songs,
// resort the queues, refill under the new epoch.
func (s *Supervisor) handleSteer(ctx context.Context, ev model.PlaylistSteeredEvent) {
	lock := s.bufferLock(ev.PlaylistID)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.deps.Store.DeleteStalePending(ctx, ev.PlaylistID, ev.NewEpoch)
	if err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldPlaylistID, ev.PlaylistID).
			Msg("epoch purge failed")
		return
	}
	metrics.EpochPurgeTotal.Add(float64(deleted))

	pl, err := s.deps.Store.GetPlaylist(ctx, ev.PlaylistID)
	if err != nil {
		return
	}
	s.deps.Queues.ResortPending(func(songID string) int {
		sg, gerr := s.deps.Store.GetSong(ctx, songID)
		if gerr != nil {
			return priorityStaleEpoch
		}
		return Priority(sg, pl)
	})

	s.logger.Info().
		Str("event", "playlist.epoch_changed").
		Str(log.FieldPlaylistID, ev.PlaylistID).
		Int(log.FieldEpoch, ev.NewEpoch).
		Int("purged", deleted).
		Msg("prompt epoch applied")

	s.fillBufferLocked(ctx, pl)
}

// --- periodic sweeps ---

func (s *Supervisor) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Supervisor) sweepOnce(ctx context.Context) {
	playlists, err := s.deps.Store.ListActivePlaylists(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("playlist sweep failed")
		return
	}
	cfg := s.deps.Config.Get().Generation
	now := time.Now()

	for _, pl := range playlists {
		switch pl.Status {
		case model.PlaylistActive:
			if now.Sub(time.Unix(pl.LastSeenAtUnix, 0)) > cfg.HeartbeatStale {
				s.logger.Info().
					Str("event", "playlist.heartbeat_expired").
					Str(log.FieldPlaylistID, pl.ID).
					Msg("no heartbeat, closing playlist")
				if err := s.deps.Store.UpdatePlaylistStatus(ctx, pl.ID, model.PlaylistClosing); err == nil {
					pl.Status = model.PlaylistClosing
				}
			}
		}

		lock := s.bufferLock(pl.ID)
		lock.Lock()
		switch pl.Status {
		case model.PlaylistActive:
			s.fillBufferLocked(ctx, pl)
		case model.PlaylistClosing:
			s.drainClosingLocked(ctx, pl)
		}
		lock.Unlock()
	}
}

// fillBufferLocked tops the playlist buffer up to the configured target.
// The caller holds the playlist's buffer lock.
func (s *Supervisor) fillBufferLocked(ctx context.Context, pl *model.Playlist) {
	cfg := s.deps.Config.Get().Generation
	wq, err := s.deps.Store.GetWorkQueue(ctx, pl.ID, cfg.BufferTarget)
	if err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldPlaylistID, pl.ID).
			Msg("work queue read failed")
		return
	}

	s.cleanupStale(ctx, wq.StaleSongs)

	if pl.Mode == model.ModeOneshot {
		if wq.TotalSongs == 0 {
			s.createSong(ctx, pl, wq.MaxOrderIndex+1)
		}
		return
	}
	for i := 0; i < wq.BufferDeficit; i++ {
		s.createSong(ctx, pl, wq.MaxOrderIndex+1+i)
	}
}

func (s *Supervisor) createSong(ctx context.Context, pl *model.Playlist, orderIndex int) {
	sg, err := s.deps.Store.CreatePending(ctx, pl.ID, orderIndex, pl.PromptEpoch)
	if err != nil {
		if !errors.Is(err, store.ErrPlaylistClosed) {
			s.logger.Error().Err(err).
				Str(log.FieldPlaylistID, pl.ID).
				Msg("buffer fill failed")
		}
		return
	}
	metrics.BufferFillTotal.WithLabelValues(string(pl.Mode)).Inc()
	// Spawn directly as well; the bus event is best-effort.
	s.Spawn(ctx, sg.ID)
}

// Interrupt inserts a one-off song at the head of generation.
func (s *Supervisor) Interrupt(ctx context.Context, playlistID, prompt string) (*model.Song, error) {
	lock := s.bufferLock(playlistID)
	lock.Lock()
	defer lock.Unlock()

	pl, err := s.deps.Store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	cfg := s.deps.Config.Get().Generation
	wq, err := s.deps.Store.GetWorkQueue(ctx, pl.ID, cfg.BufferTarget)
	if err != nil {
		return nil, err
	}
	sg, err := s.deps.Store.CreateInterrupt(ctx, pl.ID, prompt, wq.MaxOrderIndex+1, pl.PromptEpoch)
	if err != nil {
		return nil, err
	}
	s.Spawn(ctx, sg.ID)
	return sg, nil
}

// drainClosingLocked finishes transient work, then closes the playlist and
// cancels its workers.
func (s *Supervisor) drainClosingLocked(ctx context.Context, pl *model.Playlist) {
	cfg := s.deps.Config.Get().Generation
	wq, err := s.deps.Store.GetWorkQueue(ctx, pl.ID, cfg.BufferTarget)
	if err != nil {
		return
	}
	if wq.TransientCount > 0 {
		return
	}
	if err := s.deps.Store.UpdatePlaylistStatus(ctx, pl.ID, model.PlaylistClosed); err != nil {
		return
	}
	songs, err := s.deps.Store.ListSongsByPlaylist(ctx, pl.ID)
	if err != nil {
		return
	}
	for _, sg := range songs {
		s.CancelSong(sg.ID)
	}
	s.logger.Info().
		Str("event", "playlist.closed").
		Str(log.FieldPlaylistID, pl.ID).
		Msg("playlist drained and closed")
}

// cleanupStale errors out songs stuck in transient states past the threshold.
func (s *Supervisor) cleanupStale(ctx context.Context, stale []*model.Song) {
	for _, sg := range stale {
		s.CancelSong(sg.ID)
		if err := s.deps.Store.MarkError(ctx, sg.ID, "stuck in transient state"); err != nil {
			continue
		}
		s.logger.Warn().
			Str(log.FieldSongID, sg.ID).
			Str(log.FieldOldState, string(sg.Status)).
			Msg("stale song errored out")
	}
}

// --- startup ---

// startupSweep reconciles in-flight audio work against the provider, then
// spawns workers for every actionable song.
func (s *Supervisor) startupSweep(ctx context.Context) error {
	inFlight, err := s.deps.Store.GetInAudioPipeline(ctx)
	if err != nil {
		return err
	}

	var taskIDs []string
	bySong := make(map[string]*model.Song)
	for _, sg := range inFlight {
		if sg.AceTaskID != "" {
			taskIDs = append(taskIDs, sg.AceTaskID)
			bySong[sg.AceTaskID] = sg
		}
	}
	if len(taskIDs) > 0 {
		polls, perr := s.deps.Providers.Audio.BatchPoll(ctx, taskIDs)
		if perr != nil {
			// Workers recover song by song when the batch poll is down.
			s.logger.Warn().Err(perr).Msg("startup batch poll failed")
		} else {
			for taskID, poll := range polls {
				sg := bySong[taskID]
				switch poll.Status {
				case model.AudioFailed, model.AudioNotFound:
					if rerr := s.deps.Store.RevertTransient(ctx, sg.ID, model.SongMetadataReady); rerr != nil {
						s.logger.Warn().Err(rerr).
							Str(log.FieldSongID, sg.ID).
							Msg("startup revert failed")
					}
				case model.AudioSucceeded, model.AudioRunning:
					// The worker saves or resumes polling.
				}
			}
		}
	}

	playlists, err := s.deps.Store.ListActivePlaylists(ctx)
	if err != nil {
		return err
	}
	for _, pl := range playlists {
		songs, lerr := s.deps.Store.ListSongsByPlaylist(ctx, pl.ID)
		if lerr != nil {
			return lerr
		}
		for _, sg := range songs {
			if sg.Status.IsTransient() || sg.Status == model.SongError {
				s.Spawn(ctx, sg.ID)
			}
		}
	}
	s.logger.Info().
		Str("event", "supervisor.startup_sweep_done").
		Int("in_flight_audio", len(inFlight)).
		Msg("startup reconciliation complete")
	return nil
}

// --- persona backfill ---

func (s *Supervisor) personaLoop(ctx context.Context) error {
	interval := s.deps.Config.Get().Generation.PersonaInterval
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.backfillPersona(ctx)
		}
	}
}

// backfillPersona schedules low-priority persona extraction for ready songs
// that have none yet.
func (s *Supervisor) backfillPersona(ctx context.Context) {
	songs, err := s.deps.Store.GetNeedsPersona(ctx, 5)
	if err != nil {
		s.logger.Warn().Err(err).Msg("persona scan failed")
		return
	}
	for _, sg := range songs {
		sg := sg
		_, err := s.deps.Queues.LLM.Enqueue(ctx, sg.ID, priorityStaleEpoch+1, "llm", func(execCtx context.Context) error {
			text, gerr := s.deps.Providers.LLM.Complete(execCtx, personaRequest(sg))
			if gerr != nil {
				return gerr
			}
			return s.deps.Store.UpdatePersonaExtract(execCtx, sg.ID, text)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).
				Str(log.FieldSongID, sg.ID).
				Msg("persona extraction failed")
		}
	}
}
