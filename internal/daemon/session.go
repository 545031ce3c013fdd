// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// Mode is the daemon's playback mode.
type Mode string

const (
	ModeIdle  Mode = "idle"
	ModeLocal Mode = "local"
	ModeRoom  Mode = "room"
)

// Session is the persisted resume state. A daemon restart reconnects with it;
// a stale room session is cleared on the server's stale_room_session answer.
type Session struct {
	Mode        Mode   `json:"mode"`
	RoomID      string `json:"roomId,omitempty"`
	PlaylistKey string `json:"playlistKey,omitempty"`
	PlaylistID  string `json:"playlistId,omitempty"`
	ServerURL   string `json:"serverUrl,omitempty"`
}

// LoadSession reads the session file; a missing file yields an idle session.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{Mode: ModeIdle}, nil
		}
		return Session{}, fmt.Errorf("daemon: read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// A corrupt session file is not worth failing startup over.
		return Session{Mode: ModeIdle}, nil
	}
	if s.Mode == "" {
		s.Mode = ModeIdle
	}
	return s, nil
}

// SaveSession writes the session atomically.
func SaveSession(path string, s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("daemon: write session: %w", err)
	}
	return nil
}

// ClearSession removes the session file; missing is fine.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
