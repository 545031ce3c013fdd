// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Event topics published by the store on entity transitions.
const (
	TopicSongCreated           = "song.created"
	TopicSongStatusChanged     = "song.status_changed"
	TopicPlaylistCreated       = "playlist.created"
	TopicPlaylistSteered       = "playlist.steered"
	TopicPlaylistHeartbeat     = "playlist.heartbeat"
	TopicPlaylistUpdated       = "playlist.updated"
	TopicPlaylistDeleted       = "playlist.deleted"
	TopicPlaylistStatusChanged = "playlist.status_changed"
	TopicSettingsChanged       = "settings.changed"
)

// SongCreatedEvent announces a new song row.
type SongCreatedEvent struct {
	SongID      string `json:"songId"`
	PlaylistID  string `json:"playlistId"`
	OrderIndex  int    `json:"orderIndex"`
	PromptEpoch int    `json:"promptEpoch"`
	IsInterrupt bool   `json:"isInterrupt"`
}

// SongStatusChangedEvent announces a song status transition.
type SongStatusChangedEvent struct {
	SongID     string     `json:"songId"`
	PlaylistID string     `json:"playlistId"`
	From       SongStatus `json:"from"`
	To         SongStatus `json:"to"`
}

// PlaylistSteeredEvent announces a prompt edit and the resulting epoch.
type PlaylistSteeredEvent struct {
	PlaylistID string `json:"playlistId"`
	NewEpoch   int    `json:"newEpoch"`
}

// PlaylistHeartbeatEvent resets the playlist inactivity timer.
type PlaylistHeartbeatEvent struct {
	PlaylistID string `json:"playlistId"`
}

// PlaylistStatusChangedEvent announces a playlist lifecycle transition.
type PlaylistStatusChangedEvent struct {
	PlaylistID string         `json:"playlistId"`
	From       PlaylistStatus `json:"from"`
	To         PlaylistStatus `json:"to"`
}

// PlaylistDeletedEvent announces playlist removal (cascades to songs).
type PlaylistDeletedEvent struct {
	PlaylistID string `json:"playlistId"`
}

// SettingsChangedEvent announces a runtime settings swap.
type SettingsChangedEvent struct{}
