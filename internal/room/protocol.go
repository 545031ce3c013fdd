// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package room implements the synchronized playback runtime. One actor per
// room owns all room state; device sockets feed it and fan its broadcasts
// out without reordering per-device traffic.
package room

import (
	"encoding/json"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
)

// ProtocolVersion is delivered in joinAck.
const ProtocolVersion = 1

// Client to server message kinds.
const (
	KindJoin         = "join"
	KindCommand      = "command"
	KindRenameDevice = "renameDevice"
	KindSync         = "sync"
	KindSetRole      = "setRole"
	KindSongEnded    = "songEnded"
	KindPing         = "ping"
)

// Server to client message kinds.
const (
	KindState    = "state"
	KindQueue    = "queue"
	KindExecute  = "execute"
	KindNextSong = "nextSong"
	KindPreload  = "preload"
	KindJoinAck  = "joinAck"
	KindError    = "error"
	KindPong     = "pong"
)

// Envelope is the wire frame: a type discriminator plus a typed payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. Marshalling our own payload
// types cannot fail.
func NewEnvelope(kind string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Type: kind, Data: data}
}

// JoinPayload registers a device. PlaylistKey auto-creates the room when the
// roomId is unknown. A client-supplied deviceId keeps the identity stable
// across reconnects.
type JoinPayload struct {
	RoomID      string `json:"roomId"`
	RoomName    string `json:"roomName,omitempty"`
	PlaylistKey string `json:"playlistKey,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	Role        string `json:"role,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// Command actions.
const (
	ActionPlay       = "play"
	ActionPause      = "pause"
	ActionToggle     = "toggle"
	ActionSkip       = "skip"
	ActionSetVolume  = "setVolume"
	ActionSeek       = "seek"
	ActionToggleMute = "toggleMute"
	ActionSelectSong = "selectSong"
)

// CommandPayload carries one playback command, optionally device-scoped.
type CommandPayload struct {
	Action         string  `json:"action"`
	Value          float64 `json:"value,omitempty"`
	SongID         string  `json:"songId,omitempty"`
	TargetDeviceID string  `json:"targetDeviceId,omitempty"`
}

// SyncPayload is a player's periodic engine report.
type SyncPayload struct {
	SongID      string  `json:"songId,omitempty"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
}

// RenamePayload changes the device display name.
type RenamePayload struct {
	Name string `json:"name"`
}

// SetRolePayload flips the device role.
type SetRolePayload struct {
	Role string `json:"role"`
}

// SongEndedPayload reports natural end of the named song.
type SongEndedPayload struct {
	SongID string `json:"songId"`
}

// PingPayload carries the client clock for offset probes.
type PingPayload struct {
	ClientTime int64 `json:"clientTime"` // unix milliseconds
}

// PongPayload answers with both clocks.
type PongPayload struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

// JoinAckPayload confirms registration.
type JoinAckPayload struct {
	ProtocolVersion int    `json:"protocolVersion"`
	RoomID          string `json:"roomId"`
	RoomName        string `json:"roomName,omitempty"`
	DeviceID        string `json:"deviceId"`
	PlaylistID      string `json:"playlistId,omitempty"`
}

// StatePayload is the authoritative playback snapshot.
type StatePayload struct {
	Playback    model.PlaybackState `json:"playback"`
	CurrentSong *model.Song         `json:"currentSong,omitempty"`
}

// QueuePayload is the ordered consumable song list.
type QueuePayload struct {
	Songs []model.QueueEntry `json:"songs"`
}

// ExecutePayload is an authoritative playback directive for players.
type ExecutePayload struct {
	Action         string  `json:"action"`
	Value          float64 `json:"value,omitempty"`
	TargetDeviceID string  `json:"targetDeviceId,omitempty"`
}

// NextSongPayload schedules a song start at server wall time.
type NextSongPayload struct {
	SongID   string `json:"songId"`
	AudioURL string `json:"audioUrl"`
	StartAt  int64  `json:"startAt"` // unix milliseconds, server clock
}

// PreloadPayload hints a future song for warming.
type PreloadPayload struct {
	SongID   string `json:"songId"`
	AudioURL string `json:"audioUrl"`
}

// ErrorPayload answers malformed or rejected messages; the channel stays open.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrCodeStaleRoomSession distinguishes a deleted playlist from a network
// failure during join.
const ErrCodeStaleRoomSession = "stale_room_session"
