// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/room"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RoomClientConfig configures one room connection.
type RoomClientConfig struct {
	ServerURL   string
	RoomID      string
	PlaylistKey string
	DeviceName  string
	SyncPulse   time.Duration
}

// roomEvents is what the client reports back to the controller.
type roomEvents interface {
	onRoomJoined(roomID, playlistID string)
	onRoomStale()
	setQueue(q []model.QueueEntry, current *model.QueueEntry)
	setCurrent(current *model.QueueEntry)
}

// RoomClient mirrors room directives onto the local engine and reports the
// engine state back at the sync pulse.
type RoomClient struct {
	cfg    RoomClientConfig
	engine Engine
	events roomEvents
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	mu        sync.Mutex
	connected bool
	stale     bool
	offset    time.Duration // serverTime - clientTime
	probes    []time.Duration
	probeSent time.Time
	songID    string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRoomClient validates the endpoint; Start opens the connection.
func NewRoomClient(cfg RoomClientConfig, engine Engine, events roomEvents) (*RoomClient, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("daemon: room client needs a server url")
	}
	if cfg.SyncPulse <= 0 {
		cfg.SyncPulse = time.Second
	}
	return &RoomClient{
		cfg:    cfg,
		engine: engine,
		events: events,
		logger: log.WithComponent("daemon.room"),
		done:   make(chan struct{}),
	}, nil
}

// Start runs the connection loop until the parent context or Close ends it.
func (rc *RoomClient) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	rc.cancel = cancel
	rc.engine.OnSongEnded(rc.reportSongEnded)
	go rc.run(ctx)
}

// Close tears the connection down and waits for the loop.
func (rc *RoomClient) Close() {
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.closeConn()
	<-rc.done
}

// Connected reports whether the join handshake completed.
func (rc *RoomClient) Connected() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.connected
}

// ErrStaleRoomSession marks a join the server rejected because the playlist
// behind the room no longer exists.
var ErrStaleRoomSession = errors.New("daemon: stale room session")

// WaitConnected blocks until the join handshake completes, the server rejects
// the session, or the timeout passes.
func (rc *RoomClient) WaitConnected(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		rc.mu.Lock()
		connected, stale := rc.connected, rc.stale
		rc.mu.Unlock()
		if stale {
			return ErrStaleRoomSession
		}
		if connected {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon: room not connected within %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (rc *RoomClient) wsURL() (string, error) {
	u, err := url.Parse(rc.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("daemon: bad server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/room"
	return u.String(), nil
}

func (rc *RoomClient) run(ctx context.Context) {
	defer close(rc.done)
	bo := backoff.NewExponentialBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		stale, err := rc.session(ctx)
		if stale {
			rc.mu.Lock()
			rc.stale = true
			rc.mu.Unlock()
			rc.events.onRoomStale()
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			wait := bo.NextBackOff()
			rc.logger.Warn().Err(err).
				Dur("retry_in", wait).
				Msg("room connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

// session runs one connection from dial to disconnect. It returns stale=true
// when the server rejects the join with stale_room_session.
func (rc *RoomClient) session(parent context.Context) (stale bool, err error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	wsu, err := rc.wsURL()
	if err != nil {
		return false, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsu, nil)
	cancel()
	if err != nil {
		return false, err
	}
	rc.connMu.Lock()
	rc.conn = conn
	rc.connMu.Unlock()
	defer rc.closeConn()

	if err := rc.send(room.KindJoin, room.JoinPayload{
		RoomID:      rc.cfg.RoomID,
		PlaylistKey: rc.cfg.PlaylistKey,
		DeviceName:  rc.cfg.DeviceName,
		Role:        string(model.RolePlayer),
	}); err != nil {
		return false, err
	}

	defer func() {
		rc.mu.Lock()
		rc.connected = false
		rc.probes = nil
		rc.mu.Unlock()
	}()

	pulse := time.NewTicker(rc.cfg.SyncPulse)
	defer pulse.Stop()
	go rc.pulseLoop(ctx, pulse.C)

	for {
		var env room.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if parent.Err() != nil {
				return false, nil
			}
			return false, err
		}
		if stale, err := rc.handle(ctx, env); stale || err != nil {
			return stale, err
		}
	}
}

func (rc *RoomClient) pulseLoop(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			rc.mu.Lock()
			connected := rc.connected
			probeCount := len(rc.probes)
			songID := rc.songID
			rc.mu.Unlock()
			// Not joined yet; the ack may still be in flight.
			if !connected {
				continue
			}
			// Keep probing until the offset has a median worth trusting.
			if probeCount < 3 {
				rc.sendPing()
				continue
			}
			snap, err := rc.engine.Snapshot(ctx)
			if err != nil || songID == "" {
				continue
			}
			_ = rc.send(room.KindSync, room.SyncPayload{
				SongID:      songID,
				IsPlaying:   snap.Playing,
				CurrentTime: snap.Position,
			})
		}
	}
}

func (rc *RoomClient) sendPing() {
	rc.mu.Lock()
	rc.probeSent = time.Now()
	rc.mu.Unlock()
	_ = rc.send(room.KindPing, room.PingPayload{ClientTime: time.Now().UnixMilli()})
}

func (rc *RoomClient) handle(ctx context.Context, env room.Envelope) (stale bool, err error) {
	switch env.Type {
	case room.KindJoinAck:
		var ack room.JoinAckPayload
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return false, err
		}
		rc.mu.Lock()
		rc.connected = true
		rc.mu.Unlock()
		rc.cfg.RoomID = ack.RoomID
		rc.events.onRoomJoined(ack.RoomID, ack.PlaylistID)
		// Burst the first offset probes instead of waiting for the pulse.
		rc.sendPing()
	case room.KindPong:
		var pong room.PongPayload
		if err := json.Unmarshal(env.Data, &pong); err != nil {
			return false, err
		}
		rc.recordProbe(pong)
	case room.KindExecute:
		var exec room.ExecutePayload
		if err := json.Unmarshal(env.Data, &exec); err != nil {
			return false, err
		}
		rc.applyExecute(ctx, exec)
	case room.KindNextSong:
		var next room.NextSongPayload
		if err := json.Unmarshal(env.Data, &next); err != nil {
			return false, err
		}
		rc.scheduleStart(ctx, next)
	case room.KindPreload:
		var pre room.PreloadPayload
		if err := json.Unmarshal(env.Data, &pre); err != nil {
			return false, err
		}
		_ = rc.engine.Preload(ctx, pre.AudioURL)
	case room.KindState:
		var st room.StatePayload
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return false, err
		}
		rc.applyState(ctx, st)
	case room.KindQueue:
		var q room.QueuePayload
		if err := json.Unmarshal(env.Data, &q); err != nil {
			return false, err
		}
		rc.applyQueue(q)
	case room.KindError:
		var e room.ErrorPayload
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return false, err
		}
		if e.Code == room.ErrCodeStaleRoomSession {
			return true, nil
		}
		rc.logger.Warn().Str("code", e.Code).Str("message", e.Message).Msg("room error")
	}
	return false, nil
}

// recordProbe computes the clock offset from one ping round trip and keeps
// the median over the recent probes.
func (rc *RoomClient) recordProbe(pong room.PongPayload) {
	now := time.Now()
	rtt := now.Sub(time.UnixMilli(pong.ClientTime))
	est := time.UnixMilli(pong.ServerTime).Sub(now) + rtt/2

	rc.mu.Lock()
	rc.probes = append(rc.probes, est)
	if len(rc.probes) > 9 {
		rc.probes = rc.probes[len(rc.probes)-9:]
	}
	sorted := append([]time.Duration(nil), rc.probes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rc.offset = sorted[len(sorted)/2]
	rc.mu.Unlock()
}

// serverNow converts server wall time into local wall time.
func (rc *RoomClient) toLocal(serverUnixMilli int64) time.Time {
	rc.mu.Lock()
	offset := rc.offset
	rc.mu.Unlock()
	return time.UnixMilli(serverUnixMilli).Add(-offset)
}

func (rc *RoomClient) applyExecute(ctx context.Context, exec room.ExecutePayload) {
	switch exec.Action {
	case room.ActionPlay:
		_ = rc.engine.Play(ctx)
	case room.ActionPause:
		_ = rc.engine.Pause(ctx)
	case room.ActionSeek:
		_ = rc.engine.Seek(ctx, exec.Value)
	case room.ActionSetVolume:
		_ = rc.engine.SetVolume(ctx, exec.Value)
	case room.ActionToggleMute:
		snap, err := rc.engine.Snapshot(ctx)
		if err == nil {
			_ = rc.engine.SetMuted(ctx, !snap.Muted)
		}
	}
}

// scheduleStart loads the song and releases playback at the translated
// startAt instant.
func (rc *RoomClient) scheduleStart(ctx context.Context, next room.NextSongPayload) {
	rc.mu.Lock()
	rc.songID = next.SongID
	rc.mu.Unlock()

	if err := rc.engine.Load(ctx, next.SongID, next.AudioURL, 0); err != nil {
		rc.logger.Warn().Err(err).Str(log.FieldSongID, next.SongID).Msg("load failed")
		return
	}
	startAt := rc.toLocal(next.StartAt)
	go func() {
		wait := time.Until(startAt)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if err := rc.engine.Play(ctx); err == nil && wait < 0 {
			// Joined late; jump to where the room already is.
			_ = rc.engine.Seek(ctx, -wait.Seconds())
		}
	}()
}

func (rc *RoomClient) applyState(ctx context.Context, st room.StatePayload) {
	snap, err := rc.engine.Snapshot(ctx)
	if err != nil {
		return
	}
	if st.Playback.IsPlaying != snap.Playing {
		if st.Playback.IsPlaying {
			_ = rc.engine.Play(ctx)
		} else {
			_ = rc.engine.Pause(ctx)
		}
	}
	if st.Playback.Volume != snap.Volume {
		_ = rc.engine.SetVolume(ctx, st.Playback.Volume)
	}
	if st.CurrentSong != nil {
		rc.mu.Lock()
		rc.songID = st.CurrentSong.ID
		rc.mu.Unlock()
	}
}

func (rc *RoomClient) applyQueue(q room.QueuePayload) {
	rc.mu.Lock()
	songID := rc.songID
	rc.mu.Unlock()
	var current *model.QueueEntry
	for i := range q.Songs {
		if q.Songs[i].SongID == songID {
			current = &q.Songs[i]
			break
		}
	}
	rc.events.setQueue(q.Songs, current)
}

// SendCommand forwards a playback command to the room authority.
func (rc *RoomClient) SendCommand(action string, value float64, songID string) error {
	return rc.send(room.KindCommand, room.CommandPayload{
		Action: action,
		Value:  value,
		SongID: songID,
	})
}

func (rc *RoomClient) reportSongEnded(songID string) {
	_ = rc.send(room.KindSongEnded, room.SongEndedPayload{SongID: songID})
}

func (rc *RoomClient) send(kind string, payload any) error {
	rc.connMu.Lock()
	defer rc.connMu.Unlock()
	if rc.conn == nil {
		return fmt.Errorf("daemon: room connection closed")
	}
	_ = rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return rc.conn.WriteJSON(room.NewEnvelope(kind, payload))
}

func (rc *RoomClient) closeConn() {
	rc.connMu.Lock()
	if rc.conn != nil {
		_ = rc.conn.Close()
		rc.conn = nil
	}
	rc.connMu.Unlock()
}
