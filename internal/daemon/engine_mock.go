// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"sync"
	"time"
)

// MockEngine is an in-memory engine for tests and headless runs. Position
// advances with wall time while playing.
type MockEngine struct {
	mu       sync.Mutex
	songID   string
	source   string
	playing  bool
	anchor   float64
	anchorAt time.Time
	duration float64
	volume   float64
	muted    bool
	preloads []string
	onEnded  func(songID string)
}

func NewMockEngine() *MockEngine {
	return &MockEngine{volume: 1, duration: 180}
}

func (e *MockEngine) position() float64 {
	if !e.playing {
		return e.anchor
	}
	return e.anchor + time.Since(e.anchorAt).Seconds()
}

func (e *MockEngine) Load(_ context.Context, songID, source string, startPos float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.songID = songID
	e.source = source
	e.anchor = startPos
	e.anchorAt = time.Now()
	e.playing = false
	return nil
}

func (e *MockEngine) Preload(_ context.Context, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preloads = append(e.preloads, source)
	return nil
}

func (e *MockEngine) Play(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		e.anchorAt = time.Now()
		e.playing = true
	}
	return nil
}

func (e *MockEngine) Pause(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.anchor = e.position()
		e.playing = false
	}
	return nil
}

func (e *MockEngine) Seek(_ context.Context, pos float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anchor = pos
	e.anchorAt = time.Now()
	return nil
}

func (e *MockEngine) SetVolume(_ context.Context, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	return nil
}

func (e *MockEngine) SetMuted(_ context.Context, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	return nil
}

func (e *MockEngine) Snapshot(_ context.Context) (EngineSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineSnapshot{
		SongID:   e.songID,
		Source:   e.source,
		Position: e.position(),
		Duration: e.duration,
		Playing:  e.playing,
		Volume:   e.volume,
		Muted:    e.muted,
	}, nil
}

func (e *MockEngine) OnSongEnded(fn func(songID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// FinishSong simulates a natural end of the loaded track.
func (e *MockEngine) FinishSong() {
	e.mu.Lock()
	songID := e.songID
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil && songID != "" {
		fn(songID)
	}
}

// Preloads returns the sources preloaded so far.
func (e *MockEngine) Preloads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.preloads...)
}

func (e *MockEngine) Close() error { return nil }

var _ Engine = (*MockEngine)(nil)
