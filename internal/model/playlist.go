// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// PlaylistMode selects the generation policy.
type PlaylistMode string

const (
	ModeEndless PlaylistMode = "endless"
	ModeOneshot PlaylistMode = "oneshot"
)

// PlaylistStatus is the playlist lifecycle.
type PlaylistStatus string

const (
	PlaylistActive  PlaylistStatus = "active"
	PlaylistClosing PlaylistStatus = "closing"
	PlaylistClosed  PlaylistStatus = "closed"
)

// IsTerminal returns true once the playlist admits no further mutation.
func (s PlaylistStatus) IsTerminal() bool { return s == PlaylistClosed }

// ManagerSlot is one entry of the manager plan: hints for a single upcoming song.
type ManagerSlot struct {
	Transition string `json:"transition,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Theme      string `json:"theme,omitempty"`
	Energy     string `json:"energy,omitempty"`
}

// ManagerPlan covers a bounded window of upcoming order indices.
// Slots holds between 3 and 8 entries.
type ManagerPlan struct {
	StartOrderIndex int           `json:"startOrderIndex"`
	WindowSize      int           `json:"windowSize"`
	Slots           []ManagerSlot `json:"slots"`
}

// SlotFor returns the slot covering the given order index, if inside the window.
func (p *ManagerPlan) SlotFor(orderIndex int) (ManagerSlot, bool) {
	if p == nil || orderIndex < p.StartOrderIndex {
		return ManagerSlot{}, false
	}
	i := orderIndex - p.StartOrderIndex
	if i >= len(p.Slots) || i >= p.WindowSize {
		return ManagerSlot{}, false
	}
	return p.Slots[i], true
}

// Playlist is the store record for one generation session.
type Playlist struct {
	ID                string         `json:"id"`
	Key               string         `json:"key"` // external non-opaque name, room binding
	Name              string         `json:"name,omitempty"`
	Mode              PlaylistMode   `json:"mode"`
	Status            PlaylistStatus `json:"status"`
	Prompt            string         `json:"prompt"`
	PromptEpoch       int            `json:"promptEpoch"`
	CurrentOrderIndex int            `json:"currentOrderIndex"`
	LastSeenAtUnix    int64          `json:"lastSeenAtUnix"`

	ManagerBrief string       `json:"managerBrief,omitempty"`
	ManagerPlan  *ManagerPlan `json:"managerPlan,omitempty"`
	ManagerEpoch int          `json:"managerEpoch"`

	GeneratedCount int   `json:"generatedCount"`
	CreatedAtUnix  int64 `json:"createdAtUnix"`
	UpdatedAtUnix  int64 `json:"updatedAtUnix"`
}
