// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSongID        = "song_id"
	FieldPlaylistID    = "playlist_id"
	FieldRoomID        = "room_id"
	FieldDeviceID      = "device_id"
	FieldTaskID        = "task_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldEndpoint  = "endpoint"
	FieldPriority  = "priority"
	FieldEpoch     = "epoch"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
