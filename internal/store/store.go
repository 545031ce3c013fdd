// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the persistence contract of the generation pipeline.
// All song status changes go through compare-and-set style operations; the
// store is the single source of truth and publishes an event on every
// transition.
package store

import (
	"context"
	"errors"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
)

var (
	// ErrNotFound is returned when the entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrClaimLost is returned when a compare-and-set claim was already taken.
	ErrClaimLost = errors.New("store: claim lost")
	// ErrIllegalTransition is returned for edges outside the status DAG.
	ErrIllegalTransition = errors.New("store: illegal status transition")
	// ErrPlaylistClosed is returned when mutating songs of a closed playlist
	// or creating songs on a closing one.
	ErrPlaylistClosed = errors.New("store: playlist closed")
)

// WorkQueue is the per-playlist snapshot the supervisor plans from.
type WorkQueue struct {
	Pending         []*model.Song
	MetadataReady   []*model.Song
	NeedsCover      []*model.Song
	GeneratingAudio []*model.Song
	RetryPending    []*model.Song
	NeedsRecovery   []*model.Song
	StaleSongs      []*model.Song

	RecentCompleted    []*model.Song
	RecentDescriptions []string

	BufferDeficit  int
	MaxOrderIndex  int
	TotalSongs     int
	TransientCount int
	CurrentEpoch   int
}

// PlaylistStore covers playlist rows.
type PlaylistStore interface {
	CreatePlaylist(ctx context.Context, p *model.Playlist) error
	GetPlaylist(ctx context.Context, id string) (*model.Playlist, error)
	GetPlaylistByKey(ctx context.Context, key string) (*model.Playlist, error)
	ListActivePlaylists(ctx context.Context) ([]*model.Playlist, error)
	UpdatePlaylistStatus(ctx context.Context, id string, status model.PlaylistStatus) error
	UpdateManagerBrief(ctx context.Context, id, brief string, plan *model.ManagerPlan, epoch int) error
	IncrementGenerated(ctx context.Context, id string) error
	// SteerPlaylist sets a new prompt and atomically increments the prompt
	// epoch, publishing playlist.steered with the new value.
	SteerPlaylist(ctx context.Context, id, prompt string) (int, error)
	Heartbeat(ctx context.Context, id string) error
	// AdvancePlaylist moves the consumer pointer to the given order index.
	AdvancePlaylist(ctx context.Context, id string, orderIndex int) error
	DeletePlaylist(ctx context.Context, id string) error
}

// SongStore covers song rows.
type SongStore interface {
	GetSong(ctx context.Context, id string) (*model.Song, error)
	GetSongsByIDs(ctx context.Context, ids []string) ([]*model.Song, error)
	ListSongsByPlaylist(ctx context.Context, playlistID string) ([]*model.Song, error)
	GetWorkQueue(ctx context.Context, playlistID string, bufferTarget int) (*WorkQueue, error)

	CreatePending(ctx context.Context, playlistID string, orderIndex, promptEpoch int) (*model.Song, error)
	CreateInterrupt(ctx context.Context, playlistID, prompt string, orderIndex, promptEpoch int) (*model.Song, error)
	DeleteSong(ctx context.Context, id string) error
	// DeleteStalePending removes pending songs below the given epoch,
	// sparing interrupts. Returns the number of deleted rows.
	DeleteStalePending(ctx context.Context, playlistID string, epoch int) (int, error)

	// ClaimMetadata moves pending -> generating_metadata; false if lost.
	ClaimMetadata(ctx context.Context, id string) (bool, error)
	// ClaimAudio moves metadata_ready -> submitting_to_ace; false if lost.
	ClaimAudio(ctx context.Context, id string) (bool, error)

	CompleteMetadata(ctx context.Context, id string, md *model.Metadata) error
	UpdateCover(ctx context.Context, id, coverURL string) error
	UpdateAceTask(ctx context.Context, id, taskID string, submittedAtUnix int64) error
	UpdateStoragePath(ctx context.Context, id, storagePath, audioURL string) error
	UpdateAudioDuration(ctx context.Context, id string, seconds float64) error
	MarkReady(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, message string) error
	RetryErrored(ctx context.Context, id string) error
	// RevertTransient moves a song back along a recovery edge.
	RevertTransient(ctx context.Context, id string, to model.SongStatus) error
	UpdateSongStatus(ctx context.Context, id string, status model.SongStatus) error

	GetInAudioPipeline(ctx context.Context) ([]*model.Song, error)
	GetNeedsPersona(ctx context.Context, limit int) ([]*model.Song, error)
	UpdatePersonaExtract(ctx context.Context, id, persona string) error
	UpdateUserRating(ctx context.Context, id string, rating model.UserRating) error
	RecentReady(ctx context.Context, playlistID string, n int) ([]*model.Song, error)
}

// Store is the full data service surface.
type Store interface {
	PlaylistStore
	SongStore
	Close() error
}
