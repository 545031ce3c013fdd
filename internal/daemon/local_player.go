// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/rs/zerolog"
)

// LocalPlayerConfig configures one local-mode consumer.
type LocalPlayerConfig struct {
	PlaylistID string
	Poll       time.Duration
	Heartbeat  time.Duration
}

// localEvents is what the local player reports to the controller.
type localEvents interface {
	setQueue(q []model.QueueEntry, current *model.QueueEntry)
	setCurrent(current *model.QueueEntry)
}

// LocalPlayer consumes one playlist directly against the server REST API:
// poll ready songs, play them in order, report consumption, keep the
// heartbeat alive.
type LocalPlayer struct {
	cfg    LocalPlayerConfig
	api    *APIClient
	engine Engine
	events localEvents
	logger zerolog.Logger

	mu         sync.Mutex
	songs      []*model.Song // ready songs sorted by order index
	currentIdx int           // order index of the playing song, -1 when none
	played     map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLocalPlayer(cfg LocalPlayerConfig, api *APIClient, engine Engine, events localEvents) *LocalPlayer {
	if cfg.Poll <= 0 {
		cfg.Poll = 4 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	return &LocalPlayer{
		cfg:        cfg,
		api:        api,
		engine:     engine,
		events:     events,
		logger:     log.WithComponent("daemon.local").With().Str(log.FieldPlaylistID, cfg.PlaylistID).Logger(),
		currentIdx: -1,
		played:     make(map[string]bool),
	}
}

// Start launches the poll and heartbeat loops.
func (lp *LocalPlayer) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	lp.cancel = cancel
	lp.done = make(chan struct{})
	lp.engine.OnSongEnded(lp.onSongEnded)
	go lp.run(ctx)
}

// Stop halts consumption; the playlist keeps generating until its heartbeat
// expires on the server.
func (lp *LocalPlayer) Stop() {
	if lp.cancel != nil {
		lp.cancel()
	}
	if lp.done != nil {
		<-lp.done
	}
}

func (lp *LocalPlayer) run(ctx context.Context) {
	defer close(lp.done)

	poll := time.NewTicker(lp.cfg.Poll)
	defer poll.Stop()
	heartbeat := time.NewTicker(lp.cfg.Heartbeat)
	defer heartbeat.Stop()

	lp.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			lp.refresh(ctx)
		case <-heartbeat.C:
			if err := lp.api.Heartbeat(ctx, lp.cfg.PlaylistID); err != nil && ctx.Err() == nil {
				lp.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// refresh reloads the ready song list and starts playback when idle.
func (lp *LocalPlayer) refresh(ctx context.Context) {
	songs, err := lp.api.ListSongs(ctx, lp.cfg.PlaylistID)
	if err != nil {
		if ctx.Err() == nil {
			lp.logger.Warn().Err(err).Msg("song list refresh failed")
		}
		return
	}

	lp.mu.Lock()
	ready := songs[:0]
	for _, sg := range songs {
		if sg.Ready() && !lp.played[sg.ID] {
			ready = append(ready, sg)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].OrderIndex < ready[j].OrderIndex })
	lp.songs = append([]*model.Song(nil), ready...)
	idle := lp.currentIdx < 0
	lp.mu.Unlock()

	lp.publishQueue()
	if idle {
		lp.playNext(ctx, -1)
	}
}

func (lp *LocalPlayer) publishQueue() {
	lp.mu.Lock()
	entries := make([]model.QueueEntry, 0, len(lp.songs))
	var current *model.QueueEntry
	for _, sg := range lp.songs {
		e := model.QueueEntry{
			SongID:     sg.ID,
			OrderIndex: sg.OrderIndex,
			Status:     sg.Status,
			AudioURL:   sg.AudioURL,
			CoverURL:   sg.CoverURL,
		}
		if sg.Metadata != nil {
			e.Title = sg.Metadata.Title
			e.Artist = sg.Metadata.Artist
			e.Duration = sg.Metadata.AudioDuration
		}
		entries = append(entries, e)
		if sg.OrderIndex == lp.currentIdx {
			c := e
			current = &c
		}
	}
	lp.mu.Unlock()
	lp.events.setQueue(entries, current)
}

// playNext starts the first unplayed ready song above afterIndex.
func (lp *LocalPlayer) playNext(ctx context.Context, afterIndex int) {
	lp.mu.Lock()
	var next *model.Song
	for _, sg := range lp.songs {
		if sg.OrderIndex > afterIndex {
			next = sg
			break
		}
	}
	if next == nil {
		lp.currentIdx = -1
		lp.mu.Unlock()
		lp.events.setCurrent(nil)
		return
	}
	lp.currentIdx = next.OrderIndex
	lp.mu.Unlock()

	if err := lp.engine.Load(ctx, next.ID, next.AudioURL, 0); err != nil {
		lp.logger.Warn().Err(err).Str(log.FieldSongID, next.ID).Msg("load failed")
		return
	}
	if err := lp.engine.Play(ctx); err != nil {
		lp.logger.Warn().Err(err).Msg("play failed")
		return
	}
	lp.logger.Info().
		Str("event", "local.playing").
		Str(log.FieldSongID, next.ID).
		Int("order_index", next.OrderIndex).
		Msg("now playing")
	lp.publishQueue()
}

// onSongEnded reports consumption and moves on.
func (lp *LocalPlayer) onSongEnded(songID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lp.finish(ctx, songID)
}

func (lp *LocalPlayer) finish(ctx context.Context, songID string) {
	lp.mu.Lock()
	lp.played[songID] = true
	ended := lp.currentIdx
	lp.mu.Unlock()

	if err := lp.api.MarkPlayed(ctx, songID); err != nil {
		lp.logger.Warn().Err(err).Str(log.FieldSongID, songID).Msg("played report failed")
	}
	lp.playNext(ctx, ended)
}

// Skip ends the current song early; it still counts as played.
func (lp *LocalPlayer) Skip(ctx context.Context) error {
	lp.mu.Lock()
	var songID string
	for _, sg := range lp.songs {
		if sg.OrderIndex == lp.currentIdx {
			songID = sg.ID
			break
		}
	}
	lp.mu.Unlock()
	if songID == "" {
		return fmt.Errorf("daemon: nothing playing")
	}
	lp.finish(ctx, songID)
	return nil
}

// Select jumps to a specific ready song.
func (lp *LocalPlayer) Select(ctx context.Context, songID string) error {
	lp.mu.Lock()
	var target *model.Song
	for _, sg := range lp.songs {
		if sg.ID == songID {
			target = sg
			break
		}
	}
	lp.mu.Unlock()
	if target == nil {
		return fmt.Errorf("daemon: song %s is not in the ready queue", songID)
	}
	lp.playNext(ctx, target.OrderIndex-1)
	return nil
}
