// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

// Set bundles the three endpoint queues behind one cancellation surface.
type Set struct {
	LLM   *Queue
	Image *Queue
	Audio *AudioQueue
}

// CancelSong revokes every item for the song across all three queues.
func (s *Set) CancelSong(songID string) {
	s.LLM.CancelSong(songID)
	s.Image.CancelSong(songID)
	s.Audio.CancelSong(songID)
}

// UpdatePendingPriority applies the new priority across all three queues.
func (s *Set) UpdatePendingPriority(songID string, priority int) {
	s.LLM.UpdatePendingPriority(songID, priority)
	s.Image.UpdatePendingPriority(songID, priority)
	s.Audio.UpdatePendingPriority(songID, priority)
}

// ResortPending recomputes pending priorities across all three queues.
func (s *Set) ResortPending(fn func(songID string) int) {
	s.LLM.ResortPending(fn)
	s.Image.ResortPending(fn)
	s.Audio.ResortPending(fn)
}

// Stop shuts all queues down.
func (s *Set) Stop() {
	s.LLM.Stop()
	s.Image.Stop()
	s.Audio.Stop()
}
