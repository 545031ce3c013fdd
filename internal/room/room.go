// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// device is one connected socket. The out channel feeds the write pump;
// a full channel marks the device dead and it is removed.
type device struct {
	id   string
	name string
	role model.DeviceRole
	mode model.DeviceMode
	out  chan Envelope
	gone chan struct{}
}

func (d *device) send(env Envelope) bool {
	select {
	case d.out <- env:
		return true
	default:
		return false
	}
}

func (d *device) info() model.DeviceInfo {
	return model.DeviceInfo{ID: d.id, Name: d.name, Role: d.role, Mode: d.mode}
}

type inbound struct {
	dev *device
	env Envelope
}

type joinRequest struct {
	dev   *device
	reply chan JoinAckPayload
}

// Room is a single-writer actor: all state below the channels is touched
// only by the Run goroutine.
type Room struct {
	ID          string
	name        string
	playlistKey string
	playlistID  string

	store store.Store
	cfg   config.Rooms
	now   func() time.Time

	inbox   chan inbound
	joinCh  chan joinRequest
	leaveCh chan *device

	devices map[string]*device

	playback    model.PlaybackState
	current     *model.Song
	anchorPos   float64
	anchorAt    time.Time
	lastStartAt int64 // unix ms, monotonic per room

	logger zerolog.Logger
}

func newRoom(id, name, playlistKey, playlistID string, st store.Store, cfg config.Rooms) *Room {
	if name == "" {
		name = playlistKey
	}
	return &Room{
		ID:          id,
		name:        name,
		playlistKey: playlistKey,
		playlistID:  playlistID,
		store:       st,
		cfg:         cfg,
		now:         time.Now,
		inbox:       make(chan inbound, 64),
		joinCh:      make(chan joinRequest, 8),
		leaveCh:     make(chan *device, 8),
		devices:     make(map[string]*device),
		playback:    model.PlaybackState{Volume: 1},
		logger: log.WithComponent("room").With().
			Str(log.FieldRoomID, id).Logger(),
	}
}

// Run owns all room state until ctx is done.
func (r *Room) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.joinCh:
			r.handleJoin(ctx, req)
		case dev := <-r.leaveCh:
			r.removeDevice(dev)
		case in := <-r.inbox:
			r.handleMessage(ctx, in)
		}
	}
}

func (r *Room) handleJoin(ctx context.Context, req joinRequest) {
	// A rejoin under the same device id replaces the previous connection.
	if old, ok := r.devices[req.dev.id]; ok {
		r.removeDevice(old)
	}
	r.devices[req.dev.id] = req.dev
	metrics.RoomDevices.WithLabelValues(r.ID).Set(float64(len(r.devices)))

	req.reply <- JoinAckPayload{
		ProtocolVersion: ProtocolVersion,
		RoomID:          r.ID,
		RoomName:        r.name,
		DeviceID:        req.dev.id,
		PlaylistID:      r.playlistID,
	}
	// Immediate state and queue per the join contract.
	r.sendTo(req.dev, NewEnvelope(KindState, r.statePayload()))
	r.sendTo(req.dev, NewEnvelope(KindQueue, QueuePayload{Songs: r.queueSnapshot(ctx)}))
	r.logger.Info().
		Str("event", "room.device_joined").
		Str(log.FieldDeviceID, req.dev.id).
		Int("devices", len(r.devices)).
		Msg("device joined")
}

func (r *Room) removeDevice(dev *device) {
	if _, ok := r.devices[dev.id]; !ok {
		return
	}
	delete(r.devices, dev.id)
	close(dev.gone)
	metrics.RoomDevices.WithLabelValues(r.ID).Set(float64(len(r.devices)))
	r.logger.Info().
		Str("event", "room.device_left").
		Str(log.FieldDeviceID, dev.id).
		Msg("device removed")
}

func (r *Room) handleMessage(ctx context.Context, in inbound) {
	metrics.RoomMessagesTotal.WithLabelValues(in.env.Type).Inc()
	switch in.env.Type {
	case KindPing:
		var p PingPayload
		if !r.decode(in, &p) {
			return
		}
		r.sendTo(in.dev, NewEnvelope(KindPong, PongPayload{
			ClientTime: p.ClientTime,
			ServerTime: r.now().UnixMilli(),
		}))
	case KindCommand:
		var p CommandPayload
		if !r.decode(in, &p) {
			return
		}
		r.handleCommand(ctx, in.dev, p)
	case KindSync:
		var p SyncPayload
		if !r.decode(in, &p) {
			return
		}
		r.handleSync(in.dev, p)
	case KindSongEnded:
		var p SongEndedPayload
		if !r.decode(in, &p) {
			return
		}
		r.advance(ctx, p.SongID)
	case KindSetRole:
		var p SetRolePayload
		if !r.decode(in, &p) {
			return
		}
		switch model.DeviceRole(p.Role) {
		case model.RolePlayer, model.RoleController:
			in.dev.role = model.DeviceRole(p.Role)
		default:
			r.protocolError(in.dev, "unknown role "+p.Role)
		}
	case KindRenameDevice:
		var p RenamePayload
		if !r.decode(in, &p) {
			return
		}
		if p.Name == "" {
			r.protocolError(in.dev, "empty device name")
			return
		}
		in.dev.name = p.Name
	default:
		r.protocolError(in.dev, "unknown message type "+in.env.Type)
	}
}

func (r *Room) decode(in inbound, out any) bool {
	if err := json.Unmarshal(in.env.Data, out); err != nil {
		r.protocolError(in.dev, "malformed payload for "+in.env.Type)
		return false
	}
	return true
}

// protocolError answers the sender; the connection is preserved.
func (r *Room) protocolError(dev *device, msg string) {
	r.sendTo(dev, NewEnvelope(KindError, ErrorPayload{Message: msg}))
}

// --- commands ---

func (r *Room) handleCommand(ctx context.Context, from *device, cmd CommandPayload) {
	// Device-scoped commands only touch that device's engine, never room state.
	if cmd.TargetDeviceID != "" {
		target, ok := r.devices[cmd.TargetDeviceID]
		if !ok {
			r.protocolError(from, "unknown target device")
			return
		}
		r.sendTo(target, NewEnvelope(KindExecute, ExecutePayload{
			Action:         cmd.Action,
			Value:          cmd.Value,
			TargetDeviceID: cmd.TargetDeviceID,
		}))
		return
	}

	switch cmd.Action {
	case ActionPlay:
		// A fresh room has no current song; play starts the queue.
		if r.playback.CurrentSongID == "" {
			r.advance(ctx, "")
			return
		}
		r.setPlaying(true)
		r.broadcastExecute(ExecutePayload{Action: ActionPlay})
	case ActionPause:
		r.setPlaying(false)
		r.broadcastExecute(ExecutePayload{Action: ActionPause})
	case ActionToggle:
		if r.playback.CurrentSongID == "" {
			r.advance(ctx, "")
			return
		}
		r.setPlaying(!r.playback.IsPlaying)
		action := ActionPause
		if r.playback.IsPlaying {
			action = ActionPlay
		}
		r.broadcastExecute(ExecutePayload{Action: action})
	case ActionSkip:
		r.advance(ctx, r.playback.CurrentSongID)
		return
	case ActionSetVolume:
		v := cmd.Value
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		r.playback.Volume = v
		r.broadcastExecute(ExecutePayload{Action: ActionSetVolume, Value: v})
	case ActionSeek:
		r.anchorPos = cmd.Value
		r.anchorAt = r.now()
		r.playback.CurrentTime = cmd.Value
		r.broadcastExecute(ExecutePayload{Action: ActionSeek, Value: cmd.Value})
	case ActionToggleMute:
		r.playback.IsMuted = !r.playback.IsMuted
		r.broadcastExecute(ExecutePayload{Action: ActionToggleMute})
	case ActionSelectSong:
		r.startSong(ctx, cmd.SongID)
		return
	default:
		r.protocolError(from, "unknown command "+cmd.Action)
		return
	}
	r.broadcastState()
}

func (r *Room) setPlaying(playing bool) {
	if playing == r.playback.IsPlaying {
		return
	}
	r.anchorPos = r.expectedTime()
	r.anchorAt = r.now()
	r.playback.IsPlaying = playing
}

// expectedTime derives the authoritative playhead from the anchor. The anchor
// may sit at a future startAt; until then the playhead holds at the anchor
// position so drift checks do not fire against a song that has not begun.
func (r *Room) expectedTime() float64 {
	if !r.playback.IsPlaying {
		return r.anchorPos
	}
	elapsed := r.now().Sub(r.anchorAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return r.anchorPos + elapsed
}

// --- drift ---

func (r *Room) handleSync(dev *device, p SyncPayload) {
	if dev.role != model.RolePlayer || p.SongID == "" || p.SongID != r.playback.CurrentSongID {
		return
	}
	if !r.playback.IsPlaying {
		return
	}
	expected := r.expectedTime()
	drift := p.CurrentTime - expected
	if drift < 0 {
		drift = -drift
	}
	if drift <= r.cfg.DriftBound.Seconds() {
		return
	}
	metrics.RoomDriftCorrectionsTotal.Inc()
	r.logger.Debug().
		Str(log.FieldDeviceID, dev.id).
		Float64("drift_s", drift).
		Msg("drift correction")

	correction := ExecutePayload{Action: ActionSeek, Value: r.expectedTime()}
	if dev.mode == model.DeviceIndividual {
		correction.TargetDeviceID = dev.id
		r.sendTo(dev, NewEnvelope(KindExecute, correction))
		return
	}
	r.broadcastExecute(correction)
}

// --- advancement ---

// advance marks the ended song played and schedules the next ready song.
func (r *Room) advance(ctx context.Context, endedSongID string) {
	if endedSongID != "" {
		sg, err := r.store.GetSong(ctx, endedSongID)
		if err == nil {
			if sg.Status == model.SongReady {
				if err := r.store.UpdateSongStatus(ctx, endedSongID, model.SongPlayed); err != nil {
					r.logger.Warn().Err(err).
						Str(log.FieldSongID, endedSongID).
						Msg("mark played failed")
				}
			}
			if r.playlistID != "" {
				_ = r.store.AdvancePlaylist(ctx, r.playlistID, sg.OrderIndex)
			}
		}
	}

	next, following := r.nextReady(ctx, endedSongID)
	if next == nil {
		r.playback.CurrentSongID = ""
		r.current = nil
		r.setPlaying(false)
		r.broadcastState()
		r.broadcastQueue(ctx)
		return
	}
	r.startSongEntry(ctx, next, following)
}

// nextReady returns the first ready song after the ended one, and the one
// after that for preloading.
func (r *Room) nextReady(ctx context.Context, endedSongID string) (*model.Song, *model.Song) {
	if r.playlistID == "" {
		return nil, nil
	}
	songs, err := r.store.ListSongsByPlaylist(ctx, r.playlistID)
	if err != nil {
		return nil, nil
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].OrderIndex < songs[j].OrderIndex })

	afterIndex := -1
	if endedSongID != "" {
		for _, sg := range songs {
			if sg.ID == endedSongID {
				afterIndex = sg.OrderIndex
				break
			}
		}
	}
	var picked []*model.Song
	for _, sg := range songs {
		if sg.Status == model.SongReady && sg.OrderIndex > afterIndex {
			picked = append(picked, sg)
			if len(picked) == 2 {
				break
			}
		}
	}
	switch len(picked) {
	case 0:
		return nil, nil
	case 1:
		return picked[0], nil
	default:
		return picked[0], picked[1]
	}
}

func (r *Room) startSong(ctx context.Context, songID string) {
	sg, err := r.store.GetSong(ctx, songID)
	if err != nil || !sg.Ready() {
		r.logger.Warn().Str(log.FieldSongID, songID).Msg("selected song not playable")
		return
	}
	r.startSongEntry(ctx, sg, nil)
}

func (r *Room) startSongEntry(ctx context.Context, next, following *model.Song) {
	// startAt never moves earlier in server time than the previous one.
	startAt := r.now().Add(r.cfg.StartAtBuffer).UnixMilli()
	if startAt < r.lastStartAt {
		startAt = r.lastStartAt
	}
	r.lastStartAt = startAt

	r.current = next
	r.playback.CurrentSongID = next.ID
	r.playback.IsPlaying = true
	r.playback.CurrentTime = 0
	if next.Metadata != nil {
		r.playback.Duration = next.Metadata.AudioDuration
	}
	r.anchorPos = 0
	r.anchorAt = time.UnixMilli(startAt)

	r.broadcast(NewEnvelope(KindNextSong, NextSongPayload{
		SongID:   next.ID,
		AudioURL: next.AudioURL,
		StartAt:  startAt,
	}))
	if following != nil {
		r.broadcast(NewEnvelope(KindPreload, PreloadPayload{
			SongID:   following.ID,
			AudioURL: following.AudioURL,
		}))
	}
	r.broadcastState()
	r.broadcastQueue(ctx)
}

// --- snapshots & broadcast ---

func (r *Room) statePayload() StatePayload {
	pb := r.playback
	pb.CurrentTime = r.expectedTime()
	return StatePayload{Playback: pb, CurrentSong: r.current}
}

func (r *Room) queueSnapshot(ctx context.Context) []model.QueueEntry {
	if r.playlistID == "" {
		return nil
	}
	songs, err := r.store.ListSongsByPlaylist(ctx, r.playlistID)
	if err != nil {
		return nil
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].OrderIndex < songs[j].OrderIndex })
	entries := make([]model.QueueEntry, 0, len(songs))
	for _, sg := range songs {
		if sg.Status != model.SongReady && sg.ID != r.playback.CurrentSongID {
			continue
		}
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
	}
	return entries
}

func (r *Room) broadcastState() {
	r.broadcast(NewEnvelope(KindState, r.statePayload()))
}

func (r *Room) broadcastQueue(ctx context.Context) {
	r.broadcast(NewEnvelope(KindQueue, QueuePayload{Songs: r.queueSnapshot(ctx)}))
}

func (r *Room) broadcastExecute(p ExecutePayload) {
	r.broadcast(NewEnvelope(KindExecute, p))
}

// broadcast fans out to every device; send failures remove the device.
func (r *Room) broadcast(env Envelope) {
	for _, dev := range r.devices {
		r.sendTo(dev, env)
	}
}

func (r *Room) sendTo(dev *device, env Envelope) {
	if !dev.send(env) {
		metrics.RoomBroadcastFailuresTotal.Inc()
		r.removeDevice(dev)
	}
}

// DeviceCount is used by the hub for diagnostics; it must only be called
// from the actor goroutine or tests.
func (r *Room) DeviceCount() int { return len(r.devices) }

func newDevice(id, name string, role model.DeviceRole, mode model.DeviceMode) *device {
	if id == "" {
		id = uuid.New().String()
	}
	if name == "" {
		name = "device"
	}
	if role == "" {
		role = model.RolePlayer
	}
	if mode == "" {
		mode = model.DeviceDefault
	}
	return &device{
		id:   id,
		name: name,
		role: role,
		mode: mode,
		out:  make(chan Envelope, 32),
		gone: make(chan struct{}),
	}
}
