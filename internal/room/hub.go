// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"context"
	"errors"
	"sync"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStaleSession is returned when a join names a playlist that no longer
// exists; clients distinguish this from transport failures.
var ErrStaleSession = errors.New("room: stale session, playlist gone")

// Hub owns the live rooms of one process. At most one room per roomId.
type Hub struct {
	store store.Store
	cfg   config.Rooms

	mu    sync.Mutex
	rooms map[string]*hubEntry

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

type hubEntry struct {
	room   *Room
	cancel context.CancelFunc
}

func NewHub(st store.Store, cfg config.Rooms) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:  st,
		cfg:    cfg,
		rooms:  make(map[string]*hubEntry),
		runCtx: ctx,
		cancel: cancel,
		logger: log.WithComponent("room.hub"),
	}
}

// GetOrCreate returns the room, creating and binding it to the playlist
// named by playlistKey when absent. roomName only applies on creation.
func (h *Hub) GetOrCreate(ctx context.Context, roomID, roomName, playlistKey string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if roomID != "" {
		if entry, ok := h.rooms[roomID]; ok {
			return entry.room, nil
		}
	}
	if playlistKey == "" {
		return nil, ErrStaleSession
	}
	pl, err := h.store.GetPlaylistByKey(ctx, playlistKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrStaleSession
		}
		return nil, err
	}
	if roomID == "" {
		roomID = uuid.New().String()
	}

	r := newRoom(roomID, roomName, playlistKey, pl.ID, h.store, h.cfg)
	rctx, rcancel := context.WithCancel(h.runCtx)
	h.rooms[roomID] = &hubEntry{room: r, cancel: rcancel}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.Run(rctx)
	}()

	h.logger.Info().
		Str("event", "room.created").
		Str(log.FieldRoomID, roomID).
		Str(log.FieldPlaylistID, pl.ID).
		Msg("room created")
	return r, nil
}

// Delete tears the room down; connected devices are dropped.
func (h *Hub) Delete(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.rooms[roomID]
	if !ok {
		return
	}
	entry.cancel()
	delete(h.rooms, roomID)
}

// Close stops every room and waits for their actors.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}
