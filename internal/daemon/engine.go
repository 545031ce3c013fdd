// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon implements the local playback daemon: audio engine, IPC
// control socket, read-only status HTTP, room client and local mode.
package daemon

import "context"

// EngineSnapshot is the engine's current playback view.
type EngineSnapshot struct {
	SongID   string  `json:"songId,omitempty"`
	Source   string  `json:"source,omitempty"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Playing  bool    `json:"playing"`
	Volume   float64 `json:"volume"` // 0..1
	Muted    bool    `json:"muted"`
}

// Engine abstracts the audio backend. All methods are safe for concurrent
// use; blocking calls honor ctx.
type Engine interface {
	// Load replaces the current track and starts paused at startPos seconds.
	Load(ctx context.Context, songID, source string, startPos float64) error
	// Preload warms the cache for an upcoming source without switching.
	Preload(ctx context.Context, source string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, pos float64) error
	SetVolume(ctx context.Context, v float64) error
	SetMuted(ctx context.Context, muted bool) error
	Snapshot(ctx context.Context) (EngineSnapshot, error)
	// OnSongEnded registers the natural end-of-file callback. One callback;
	// later registrations replace earlier ones.
	OnSongEnded(fn func(songID string))
	// Close stops playback and releases the backend process.
	Close() error
}
