// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the daemon's externally visible state, served over IPC and HTTP.
type Status struct {
	Mode        Mode              `json:"mode"`
	Connected   bool              `json:"connected"`
	RoomID      string            `json:"roomId,omitempty"`
	PlaylistID  string            `json:"playlistId,omitempty"`
	PlaylistKey string            `json:"playlistKey,omitempty"`
	Engine      EngineSnapshot    `json:"engine"`
	Current     *model.QueueEntry `json:"current,omitempty"`
}

// Controller is the daemon core: one engine, one mode at a time. Mutating
// actions serialize on mu; reads take a snapshot.
type Controller struct {
	cfg         config.Daemon
	engine      Engine
	sessionPath string
	shutdown    func() // requests daemon exit

	mu      sync.Mutex
	session Session
	room    *RoomClient
	local   *LocalPlayer

	queueMu sync.Mutex
	queue   []model.QueueEntry
	current *model.QueueEntry

	runCtx context.Context
	logger zerolog.Logger
}

// NewController builds the core around an engine. shutdown is invoked by the
// IPC shutdown action.
func NewController(cfg config.Daemon, engine Engine, sessionPath string, shutdown func()) *Controller {
	return &Controller{
		cfg:         cfg,
		engine:      engine,
		sessionPath: sessionPath,
		shutdown:    shutdown,
		session:     Session{Mode: ModeIdle},
		logger:      log.WithComponent("daemon.controller"),
	}
}

// Start restores the persisted session. runCtx bounds all background
// connections the controller spawns.
func (c *Controller) Start(runCtx context.Context) error {
	c.runCtx = runCtx
	s, err := LoadSession(c.sessionPath)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Mode {
	case ModeRoom:
		return c.joinRoomLocked(s)
	case ModeLocal:
		return c.startLocalResumeLocked(s)
	default:
		return nil
	}
}

// Stop leaves the active mode without clearing the persisted session, so the
// next start resumes it.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
}

// detachLocked tears down the active room or local runner.
func (c *Controller) detachLocked() {
	if c.room != nil {
		c.room.Close()
		c.room = nil
	}
	if c.local != nil {
		c.local.Stop()
		c.local = nil
	}
	c.setQueue(nil, nil)
}

func (c *Controller) saveSessionLocked() {
	if err := SaveSession(c.sessionPath, c.session); err != nil {
		c.logger.Warn().Err(err).Msg("session save failed")
	}
}

// Status snapshots the daemon state.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	s := c.session
	room := c.room
	local := c.local
	c.mu.Unlock()

	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("engine snapshot failed")
	}
	st := Status{
		Mode:        s.Mode,
		RoomID:      s.RoomID,
		PlaylistID:  s.PlaylistID,
		PlaylistKey: s.PlaylistKey,
		Engine:      snap,
	}
	switch {
	case room != nil:
		st.Connected = room.Connected()
	case local != nil:
		st.Connected = true
	}
	c.queueMu.Lock()
	st.Current = c.current
	c.queueMu.Unlock()
	return st
}

// Queue returns the last known consumable queue.
func (c *Controller) Queue() []model.QueueEntry {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return append([]model.QueueEntry(nil), c.queue...)
}

// setQueue stores queue and current; callers hold no locks.
func (c *Controller) setQueue(q []model.QueueEntry, current *model.QueueEntry) {
	c.queueMu.Lock()
	c.queue = q
	c.current = current
	c.queueMu.Unlock()
}

func (c *Controller) setCurrent(current *model.QueueEntry) {
	c.queueMu.Lock()
	c.current = current
	c.queueMu.Unlock()
}

// JoinRoom switches to room mode, replacing whatever mode was active, and
// waits until the room connection is established. Joining the room the daemon
// is already connected to is a no-op.
func (c *Controller) JoinRoom(serverURL, roomID, playlistKey string) error {
	c.mu.Lock()
	if c.session.Mode == ModeRoom && c.room != nil && c.room.Connected() &&
		((roomID != "" && c.session.RoomID == roomID) ||
			(roomID == "" && playlistKey != "" && c.session.PlaylistKey == playlistKey)) {
		c.mu.Unlock()
		return nil
	}
	c.detachLocked()

	if serverURL == "" {
		serverURL = c.cfg.ServerURL
	}
	if serverURL == "" {
		c.mu.Unlock()
		return fmt.Errorf("daemon: no server url configured")
	}
	s := Session{
		Mode:        ModeRoom,
		RoomID:      roomID,
		PlaylistKey: playlistKey,
		ServerURL:   serverURL,
	}
	if err := c.joinRoomLocked(s); err != nil {
		c.mu.Unlock()
		return err
	}
	rc := c.room
	wait := c.cfg.ConnectWait
	c.mu.Unlock()

	// Wait outside the lock so status stays readable during the handshake.
	return rc.WaitConnected(wait)
}

func (c *Controller) joinRoomLocked(s Session) error {
	rc, err := NewRoomClient(RoomClientConfig{
		ServerURL:   s.ServerURL,
		RoomID:      s.RoomID,
		PlaylistKey: s.PlaylistKey,
		DeviceName:  c.cfg.DeviceName,
		SyncPulse:   c.cfg.SyncPulse,
	}, c.engine, c)
	if err != nil {
		return err
	}
	c.room = rc
	c.session = s
	c.saveSessionLocked()
	rc.Start(c.runCtx)
	return nil
}

// onRoomJoined records the acked ids so a restart can rejoin directly.
func (c *Controller) onRoomJoined(roomID, playlistID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Mode != ModeRoom {
		return
	}
	c.session.RoomID = roomID
	c.session.PlaylistID = playlistID
	c.saveSessionLocked()
}

// onRoomStale is called when the server answers stale_room_session: the
// playlist is gone, so the session is cleared rather than retried.
func (c *Controller) onRoomStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Mode != ModeRoom {
		return
	}
	c.detachLocked()
	c.session = Session{Mode: ModeIdle}
	c.saveSessionLocked()
	c.logger.Warn().Str("event", "daemon.session_stale").Msg("room session stale, cleared")
}

// StartLocal starts local playback. With a prompt a fresh playlist is created
// on the server; with a playlist id an existing one is consumed.
func (c *Controller) StartLocal(ctx context.Context, serverURL, prompt, playlistID string, mode model.PlaylistMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()

	if serverURL == "" {
		serverURL = c.cfg.ServerURL
	}
	if serverURL == "" {
		return fmt.Errorf("daemon: no server url configured")
	}
	api := NewAPIClient(serverURL)

	if playlistID == "" {
		if prompt == "" {
			return fmt.Errorf("daemon: local mode needs a prompt or playlist id")
		}
		pl, err := api.CreatePlaylist(ctx, uuid.New().String(), c.cfg.DeviceName, prompt, mode)
		if err != nil {
			return err
		}
		playlistID = pl.ID
	}

	s := Session{Mode: ModeLocal, PlaylistID: playlistID, ServerURL: serverURL}
	c.session = s
	c.saveSessionLocked()
	return c.startLocalPlayerLocked(api, playlistID)
}

func (c *Controller) startLocalResumeLocked(s Session) error {
	if s.PlaylistID == "" || s.ServerURL == "" {
		c.session = Session{Mode: ModeIdle}
		c.saveSessionLocked()
		return nil
	}
	c.session = s
	return c.startLocalPlayerLocked(NewAPIClient(s.ServerURL), s.PlaylistID)
}

func (c *Controller) startLocalPlayerLocked(api *APIClient, playlistID string) error {
	lp := NewLocalPlayer(LocalPlayerConfig{
		PlaylistID: playlistID,
		Poll:       c.cfg.LocalPoll,
		Heartbeat:  c.cfg.Heartbeat,
	}, api, c.engine, c)
	c.local = lp
	lp.Start(c.runCtx)
	return nil
}

// LeaveRoom returns to idle; the session is cleared.
func (c *Controller) LeaveRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
	c.session = Session{Mode: ModeIdle}
	c.saveSessionLocked()
	_ = c.engine.Pause(context.Background())
}

// LeavePlaylist stops local consumption; the playlist keeps generating until
// its heartbeat expires server-side.
func (c *Controller) LeavePlaylist() {
	c.LeaveRoom()
}

// ClearSession drops the persisted session entirely.
func (c *Controller) ClearSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
	c.session = Session{Mode: ModeIdle}
	return ClearSession(c.sessionPath)
}

// Configure updates the server endpoint used by later joins.
func (c *Controller) Configure(serverURL, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if serverURL != "" {
		c.cfg.ServerURL = serverURL
	}
	if deviceName != "" {
		c.cfg.DeviceName = deviceName
	}
}

// Shutdown asks the daemon process to exit.
func (c *Controller) Shutdown() {
	if c.shutdown != nil {
		c.shutdown()
	}
}

// --- playback commands ---

// command routes an action either into the room or onto the local engine.
func (c *Controller) command(ctx context.Context, action string, value float64, songID string) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room != nil {
		// Transport toggles apply locally first; the room's execute broadcast
		// reconciles every device, this one included.
		switch action {
		case "play":
			_ = c.engine.Play(ctx)
		case "pause":
			_ = c.engine.Pause(ctx)
		case "toggle":
			if snap, err := c.engine.Snapshot(ctx); err == nil {
				if snap.Playing {
					_ = c.engine.Pause(ctx)
				} else {
					_ = c.engine.Play(ctx)
				}
			}
		}
		return room.SendCommand(action, value, songID)
	}
	switch action {
	case "play":
		return c.engine.Play(ctx)
	case "pause":
		return c.engine.Pause(ctx)
	case "toggle":
		snap, err := c.engine.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Playing {
			return c.engine.Pause(ctx)
		}
		return c.engine.Play(ctx)
	case "skip":
		c.mu.Lock()
		local := c.local
		c.mu.Unlock()
		if local != nil {
			return local.Skip(ctx)
		}
		return fmt.Errorf("daemon: nothing to skip")
	case "setVolume":
		return c.engine.SetVolume(ctx, clampUnit(value))
	case "seek":
		return c.engine.Seek(ctx, value)
	case "toggleMute":
		snap, err := c.engine.Snapshot(ctx)
		if err != nil {
			return err
		}
		return c.engine.SetMuted(ctx, !snap.Muted)
	case "selectSong":
		c.mu.Lock()
		local := c.local
		c.mu.Unlock()
		if local != nil {
			return local.Select(ctx, songID)
		}
		return fmt.Errorf("daemon: no active playlist")
	default:
		return fmt.Errorf("daemon: unknown action %s", action)
	}
}

func (c *Controller) Play(ctx context.Context) error   { return c.command(ctx, "play", 0, "") }
func (c *Controller) Pause(ctx context.Context) error  { return c.command(ctx, "pause", 0, "") }
func (c *Controller) Toggle(ctx context.Context) error { return c.command(ctx, "toggle", 0, "") }
func (c *Controller) Skip(ctx context.Context) error   { return c.command(ctx, "skip", 0, "") }

func (c *Controller) SetVolume(ctx context.Context, v float64) error {
	return c.command(ctx, "setVolume", clampUnit(v), "")
}

// VolumeDelta nudges the current volume, clamped to [0,1].
func (c *Controller) VolumeDelta(ctx context.Context, delta float64) error {
	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		return err
	}
	return c.command(ctx, "setVolume", clampUnit(snap.Volume+delta), "")
}

func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.command(ctx, "toggleMute", 0, "")
}

func (c *Controller) Seek(ctx context.Context, pos float64) error {
	return c.command(ctx, "seek", pos, "")
}

func (c *Controller) SelectSong(ctx context.Context, songID string) error {
	return c.command(ctx, "selectSong", 0, songID)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
