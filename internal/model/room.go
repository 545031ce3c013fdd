// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// DeviceRole distinguishes playing devices from pure remote controls.
type DeviceRole string

const (
	RolePlayer     DeviceRole = "player"
	RoleController DeviceRole = "controller"
)

// DeviceMode controls whether a device follows room playback or only
// executes directives explicitly targeted at it.
type DeviceMode string

const (
	DeviceDefault    DeviceMode = "default"
	DeviceIndividual DeviceMode = "individual"
)

// DeviceInfo is the roster entry broadcast to room members.
type DeviceInfo struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role DeviceRole `json:"role"`
	Mode DeviceMode `json:"mode"`
}

// PlaybackState is the authoritative playback struct of a room, and also the
// shape of the daemon engine snapshot.
type PlaybackState struct {
	CurrentSongID string  `json:"currentSongId,omitempty"`
	IsPlaying     bool    `json:"isPlaying"`
	CurrentTime   float64 `json:"currentTime"`
	Duration      float64 `json:"duration,omitempty"`
	Volume        float64 `json:"volume"`
	IsMuted       bool    `json:"isMuted"`
}

// QueueEntry is the consumer-facing song snapshot inside a room queue.
type QueueEntry struct {
	SongID     string     `json:"songId"`
	OrderIndex int        `json:"orderIndex"`
	Status     SongStatus `json:"status"`
	Title      string     `json:"title,omitempty"`
	Artist     string     `json:"artist,omitempty"`
	Duration   float64    `json:"duration,omitempty"`
	AudioURL   string     `json:"audioUrl,omitempty"`
	CoverURL   string     `json:"coverUrl,omitempty"`
}
