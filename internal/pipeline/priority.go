// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline drives songs from pending to ready. A worker per song
// executes the state machine; the supervisor keeps per-playlist buffers
// filled and reacts to steering, heartbeats and restarts.
package pipeline

import "github.com/beastyrabbit/infinitune-sub001/internal/model"

// Queue priority bands. Lower dequeues first.
const (
	priorityInterrupt  = 0
	priorityBase       = 10
	priorityClosing    = 50
	priorityStaleEpoch = 1000
)

// Priority derives the queue priority of a song. Interrupts always win;
// songs closer to the consumer pointer come next; stale epochs sink to the
// bottom but are never dropped here (the supervisor deletes them).
func Priority(song *model.Song, playlist *model.Playlist) int {
	if song.IsInterrupt {
		return priorityInterrupt
	}
	gap := song.OrderIndex - playlist.CurrentOrderIndex
	if gap < 1 {
		gap = 1
	}
	p := priorityBase + gap
	if playlist.Status == model.PlaylistClosing {
		p += priorityClosing
	}
	if song.PromptEpoch != playlist.PromptEpoch {
		p += priorityStaleEpoch
	}
	return p
}
