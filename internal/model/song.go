// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// SongStatus is the persisted lifecycle of a generated song.
// Transitions form a DAG; see Next and CanTransition.
type SongStatus string

const (
	SongPending            SongStatus = "pending"
	SongGeneratingMetadata SongStatus = "generating_metadata"
	SongMetadataReady      SongStatus = "metadata_ready"
	SongSubmittingToAce    SongStatus = "submitting_to_ace"
	SongGeneratingAudio    SongStatus = "generating_audio"
	SongSaving             SongStatus = "saving"
	SongReady              SongStatus = "ready"
	SongError              SongStatus = "error"
	SongRetryPending       SongStatus = "retry_pending"
	SongPlayed             SongStatus = "played"
)

// transitions is the legal edge set of the song state machine.
var transitions = map[SongStatus][]SongStatus{
	SongPending:            {SongGeneratingMetadata, SongError},
	SongGeneratingMetadata: {SongMetadataReady, SongPending, SongError},
	SongMetadataReady:      {SongSubmittingToAce, SongError},
	SongSubmittingToAce:    {SongGeneratingAudio, SongMetadataReady, SongError},
	SongGeneratingAudio:    {SongSaving, SongMetadataReady, SongError},
	SongSaving:             {SongReady, SongGeneratingAudio, SongError},
	SongReady:              {SongPlayed},
	SongError:              {SongRetryPending},
	SongRetryPending:       {SongPending, SongMetadataReady, SongGeneratingAudio},
}

// CanTransition reports whether from -> to is a legal edge.
func (s SongStatus) CanTransition(to SongStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no forward work remains for the song.
func (s SongStatus) IsTerminal() bool {
	switch s {
	case SongReady, SongError, SongPlayed:
		return true
	}
	return false
}

// IsTransient returns true for states that hold in-flight generation work.
// A closing playlist drains exactly these states before moving to closed.
func (s SongStatus) IsTransient() bool {
	switch s {
	case SongPending, SongGeneratingMetadata, SongMetadataReady,
		SongSubmittingToAce, SongGeneratingAudio, SongSaving, SongRetryPending:
		return true
	}
	return false
}

// UserRating is an optional thumbs up/down on a song.
type UserRating string

const (
	RatingUp   UserRating = "up"
	RatingDown UserRating = "down"
)

// Metadata holds the LLM-produced description of a song.
type Metadata struct {
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	Lyrics        string  `json:"lyrics,omitempty"`
	Caption       string  `json:"caption,omitempty"`
	BPM           int     `json:"bpm,omitempty"`
	KeyScale      string  `json:"keyScale,omitempty"`
	TimeSignature string  `json:"timeSignature,omitempty"`
	AudioDuration float64 `json:"audioDuration,omitempty"`
	Mood          string  `json:"mood,omitempty"`
	Energy        string  `json:"energy,omitempty"`
}

// Song is the store record for one generated track.
type Song struct {
	ID          string     `json:"id"`
	PlaylistID  string     `json:"playlistId"`
	OrderIndex  int        `json:"orderIndex"`
	PromptEpoch int        `json:"promptEpoch"`
	IsInterrupt bool       `json:"isInterrupt"`
	Status      SongStatus `json:"status"`

	// Interrupt songs carry their own prompt text.
	Prompt string `json:"prompt,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`

	AceTaskID      string     `json:"aceTaskId,omitempty"`
	AceSubmittedAt int64      `json:"aceSubmittedAt,omitempty"` // unix seconds
	AudioURL       string     `json:"audioUrl,omitempty"`
	StoragePath    string     `json:"storagePath,omitempty"`
	CoverURL       string     `json:"coverUrl,omitempty"`
	UserRating     UserRating `json:"userRating,omitempty"`
	PersonaExtract string     `json:"personaExtract,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	RetryCount     int        `json:"retryCount,omitempty"`

	CreatedAtUnix int64 `json:"createdAtUnix"`
	UpdatedAtUnix int64 `json:"updatedAtUnix"`
}

// Ready reports whether the song has a playable audio file.
func (s *Song) Ready() bool { return s.Status == SongReady }
