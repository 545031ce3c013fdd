// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/bus"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu sync.RWMutex

	playlists map[string]*model.Playlist
	songs     map[string]*model.Song

	sink eventSink
	now  func() time.Time
}

func NewMemoryStore(b bus.Bus) *MemoryStore {
	return &MemoryStore{
		playlists: make(map[string]*model.Playlist),
		songs:     make(map[string]*model.Song),
		sink:      eventSink{bus: b},
		now:       time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

// SetClock overrides the store clock (tests only).
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func copySong(s *model.Song) *model.Song {
	cp := *s
	if s.Metadata != nil {
		md := *s.Metadata
		cp.Metadata = &md
	}
	return &cp
}

func copyPlaylist(p *model.Playlist) *model.Playlist {
	cp := *p
	if p.ManagerPlan != nil {
		plan := *p.ManagerPlan
		plan.Slots = append([]model.ManagerSlot(nil), p.ManagerPlan.Slots...)
		cp.ManagerPlan = &plan
	}
	return &cp
}

// --- PlaylistStore ---

func (m *MemoryStore) CreatePlaylist(ctx context.Context, p *model.Playlist) error {
	m.mu.Lock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.PlaylistActive
	}
	if p.Mode == "" {
		p.Mode = model.ModeEndless
	}
	if p.CurrentOrderIndex == 0 {
		// Nothing consumed yet; index 0 is still upcoming.
		p.CurrentOrderIndex = -1
	}
	now := m.now().Unix()
	p.CreatedAtUnix = now
	p.UpdatedAtUnix = now
	p.LastSeenAtUnix = now
	m.playlists[p.ID] = copyPlaylist(p)
	m.mu.Unlock()

	m.sink.publish(model.TopicPlaylistCreated, copyPlaylist(p))
	return nil
}

func (m *MemoryStore) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.playlists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlaylist(p), nil
}

func (m *MemoryStore) GetPlaylistByKey(ctx context.Context, key string) (*model.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.playlists {
		if p.Key == key {
			return copyPlaylist(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActivePlaylists(ctx context.Context) ([]*model.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Playlist
	for _, p := range m.playlists {
		if p.Status != model.PlaylistClosed {
			out = append(out, copyPlaylist(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUnix < out[j].CreatedAtUnix })
	return out, nil
}

func (m *MemoryStore) UpdatePlaylistStatus(ctx context.Context, id string, status model.PlaylistStatus) error {
	m.mu.Lock()
	p, ok := m.playlists[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	from := p.Status
	if from == status {
		m.mu.Unlock()
		return nil
	}
	p.Status = status
	p.UpdatedAtUnix = m.now().Unix()
	m.mu.Unlock()

	m.sink.playlistStatusChanged(id, from, status)
	return nil
}

func (m *MemoryStore) UpdateManagerBrief(ctx context.Context, id, brief string, plan *model.ManagerPlan, epoch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[id]
	if !ok {
		return ErrNotFound
	}
	if epoch > p.PromptEpoch {
		return fmt.Errorf("manager epoch %d ahead of prompt epoch %d", epoch, p.PromptEpoch)
	}
	p.ManagerBrief = brief
	p.ManagerPlan = plan
	p.ManagerEpoch = epoch
	p.UpdatedAtUnix = m.now().Unix()
	return nil
}

func (m *MemoryStore) IncrementGenerated(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[id]
	if !ok {
		return ErrNotFound
	}
	p.GeneratedCount++
	return nil
}

func (m *MemoryStore) SteerPlaylist(ctx context.Context, id, prompt string) (int, error) {
	m.mu.Lock()
	p, ok := m.playlists[id]
	if !ok {
		m.mu.Unlock()
		return 0, ErrNotFound
	}
	if p.Status == model.PlaylistClosed {
		m.mu.Unlock()
		return 0, ErrPlaylistClosed
	}
	p.Prompt = prompt
	p.PromptEpoch++
	p.UpdatedAtUnix = m.now().Unix()
	newEpoch := p.PromptEpoch
	m.mu.Unlock()

	m.sink.publish(model.TopicPlaylistSteered, model.PlaylistSteeredEvent{PlaylistID: id, NewEpoch: newEpoch})
	return newEpoch, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.playlists[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	p.LastSeenAtUnix = m.now().Unix()
	m.mu.Unlock()

	m.sink.publish(model.TopicPlaylistHeartbeat, model.PlaylistHeartbeatEvent{PlaylistID: id})
	return nil
}

func (m *MemoryStore) AdvancePlaylist(ctx context.Context, id string, orderIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[id]
	if !ok {
		return ErrNotFound
	}
	if orderIndex > p.CurrentOrderIndex {
		p.CurrentOrderIndex = orderIndex
		p.UpdatedAtUnix = m.now().Unix()
	}
	return nil
}

func (m *MemoryStore) DeletePlaylist(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.playlists[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.playlists, id)
	for sid, s := range m.songs {
		if s.PlaylistID == id {
			delete(m.songs, sid)
		}
	}
	m.mu.Unlock()

	m.sink.publish(model.TopicPlaylistDeleted, model.PlaylistDeletedEvent{PlaylistID: id})
	return nil
}

// --- SongStore ---

func (m *MemoryStore) GetSong(ctx context.Context, id string) (*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.songs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySong(s), nil
}

func (m *MemoryStore) GetSongsByIDs(ctx context.Context, ids []string) ([]*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Song, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.songs[id]; ok {
			out = append(out, copySong(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSongsByPlaylist(ctx context.Context, playlistID string) ([]*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Song
	for _, s := range m.songs {
		if s.PlaylistID == playlistID {
			out = append(out, copySong(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *MemoryStore) createSong(ctx context.Context, playlistID, prompt string, orderIndex, promptEpoch int, interrupt bool) (*model.Song, error) {
	m.mu.Lock()
	p, ok := m.playlists[playlistID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if p.Status != model.PlaylistActive {
		m.mu.Unlock()
		return nil, ErrPlaylistClosed
	}
	now := m.now().Unix()
	s := &model.Song{
		ID:            uuid.New().String(),
		PlaylistID:    playlistID,
		OrderIndex:    orderIndex,
		PromptEpoch:   promptEpoch,
		IsInterrupt:   interrupt,
		Prompt:        prompt,
		Status:        model.SongPending,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	m.songs[s.ID] = s
	cp := copySong(s)
	m.mu.Unlock()

	m.sink.songCreated(cp)
	return cp, nil
}

func (m *MemoryStore) CreatePending(ctx context.Context, playlistID string, orderIndex, promptEpoch int) (*model.Song, error) {
	return m.createSong(ctx, playlistID, "", orderIndex, promptEpoch, false)
}

func (m *MemoryStore) CreateInterrupt(ctx context.Context, playlistID, prompt string, orderIndex, promptEpoch int) (*model.Song, error) {
	return m.createSong(ctx, playlistID, prompt, orderIndex, promptEpoch, true)
}

func (m *MemoryStore) DeleteSong(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.songs[id]; !ok {
		return ErrNotFound
	}
	delete(m.songs, id)
	return nil
}

func (m *MemoryStore) DeleteStalePending(ctx context.Context, playlistID string, epoch int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, s := range m.songs {
		if s.PlaylistID == playlistID && s.Status == model.SongPending &&
			s.PromptEpoch < epoch && !s.IsInterrupt {
			delete(m.songs, id)
			count++
		}
	}
	return count, nil
}

// transition applies from -> to under the mutex and publishes the edge.
// With a nil mutate it is a pure CAS.
func (m *MemoryStore) transition(id string, from, to model.SongStatus, mutate func(*model.Song)) (bool, error) {
	m.mu.Lock()
	s, ok := m.songs[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	if p, ok := m.playlists[s.PlaylistID]; ok && p.Status == model.PlaylistClosed {
		m.mu.Unlock()
		return false, ErrPlaylistClosed
	}
	if s.Status != from {
		m.mu.Unlock()
		return false, nil
	}
	s.Status = to
	s.UpdatedAtUnix = m.now().Unix()
	if mutate != nil {
		mutate(s)
	}
	cp := copySong(s)
	m.mu.Unlock()

	m.sink.songStatusChanged(cp, from, to)
	return true, nil
}

func (m *MemoryStore) ClaimMetadata(ctx context.Context, id string) (bool, error) {
	return m.transition(id, model.SongPending, model.SongGeneratingMetadata, nil)
}

func (m *MemoryStore) ClaimAudio(ctx context.Context, id string) (bool, error) {
	return m.transition(id, model.SongMetadataReady, model.SongSubmittingToAce, nil)
}

func (m *MemoryStore) CompleteMetadata(ctx context.Context, id string, md *model.Metadata) error {
	ok, err := m.transition(id, model.SongGeneratingMetadata, model.SongMetadataReady, func(s *model.Song) {
		cp := *md
		s.Metadata = &cp
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (m *MemoryStore) UpdateCover(ctx context.Context, id, coverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrNotFound
	}
	s.CoverURL = coverURL
	s.UpdatedAtUnix = m.now().Unix()
	return nil
}

func (m *MemoryStore) UpdateAceTask(ctx context.Context, id, taskID string, submittedAtUnix int64) error {
	ok, err := m.transition(id, model.SongSubmittingToAce, model.SongGeneratingAudio, func(s *model.Song) {
		s.AceTaskID = taskID
		s.AceSubmittedAt = submittedAtUnix
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (m *MemoryStore) UpdateStoragePath(ctx context.Context, id, storagePath, audioURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrNotFound
	}
	s.StoragePath = storagePath
	s.AudioURL = audioURL
	s.UpdatedAtUnix = m.now().Unix()
	return nil
}

func (m *MemoryStore) UpdateAudioDuration(ctx context.Context, id string, seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Metadata == nil {
		s.Metadata = &model.Metadata{}
	}
	s.Metadata.AudioDuration = seconds
	s.UpdatedAtUnix = m.now().Unix()
	return nil
}

func (m *MemoryStore) MarkReady(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.songs[id]
	var audioURL string
	if ok {
		audioURL = s.AudioURL
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if audioURL == "" {
		return fmt.Errorf("mark ready %s: audio url is empty", id)
	}
	okCAS, err := m.transition(id, model.SongSaving, model.SongReady, nil)
	if err != nil {
		return err
	}
	if !okCAS {
		return ErrClaimLost
	}
	return nil
}

func (m *MemoryStore) MarkError(ctx context.Context, id, message string) error {
	m.mu.Lock()
	s, ok := m.songs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	from := s.Status
	if from == model.SongError {
		s.ErrorMessage = message
		m.mu.Unlock()
		return nil
	}
	s.Status = model.SongError
	s.ErrorMessage = message
	s.UpdatedAtUnix = m.now().Unix()
	cp := copySong(s)
	m.mu.Unlock()

	m.sink.songStatusChanged(cp, from, model.SongError)
	return nil
}

func (m *MemoryStore) RetryErrored(ctx context.Context, id string) error {
	ok, err := m.transition(id, model.SongError, model.SongRetryPending, func(s *model.Song) {
		s.RetryCount++
		s.ErrorMessage = ""
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (m *MemoryStore) RevertTransient(ctx context.Context, id string, to model.SongStatus) error {
	m.mu.Lock()
	s, ok := m.songs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	from := s.Status
	if !from.CanTransition(to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	s.Status = to
	if to == model.SongMetadataReady || to == model.SongPending {
		s.AceTaskID = ""
		s.AceSubmittedAt = 0
	}
	s.UpdatedAtUnix = m.now().Unix()
	cp := copySong(s)
	m.mu.Unlock()

	m.sink.songStatusChanged(cp, from, to)
	return nil
}

func (m *MemoryStore) UpdateSongStatus(ctx context.Context, id string, status model.SongStatus) error {
	m.mu.Lock()
	s, ok := m.songs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if p, ok := m.playlists[s.PlaylistID]; ok && p.Status == model.PlaylistClosed {
		m.mu.Unlock()
		return ErrPlaylistClosed
	}
	from := s.Status
	if from == status {
		m.mu.Unlock()
		return nil
	}
	if !from.CanTransition(status) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, status)
	}
	s.Status = status
	s.UpdatedAtUnix = m.now().Unix()
	cp := copySong(s)
	m.mu.Unlock()

	m.sink.songStatusChanged(cp, from, status)
	return nil
}

func (m *MemoryStore) GetInAudioPipeline(ctx context.Context) ([]*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Song
	for _, s := range m.songs {
		switch s.Status {
		case model.SongSubmittingToAce, model.SongGeneratingAudio, model.SongSaving:
			out = append(out, copySong(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetNeedsPersona(ctx context.Context, limit int) ([]*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Song
	for _, s := range m.songs {
		if s.Status == model.SongReady && s.PersonaExtract == "" {
			out = append(out, copySong(s))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdatePersonaExtract(ctx context.Context, id, persona string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrNotFound
	}
	s.PersonaExtract = persona
	return nil
}

func (m *MemoryStore) UpdateUserRating(ctx context.Context, id string, rating model.UserRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrNotFound
	}
	s.UserRating = rating
	return nil
}

func (m *MemoryStore) RecentReady(ctx context.Context, playlistID string, n int) ([]*model.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Song
	for _, s := range m.songs {
		if s.PlaylistID == playlistID && (s.Status == model.SongReady || s.Status == model.SongPlayed) {
			out = append(out, copySong(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex > out[j].OrderIndex })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) GetWorkQueue(ctx context.Context, playlistID string, bufferTarget int) (*WorkQueue, error) {
	m.mu.RLock()
	p, ok := m.playlists[playlistID]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	currentEpoch := p.PromptEpoch
	currentIdx := p.CurrentOrderIndex
	staleCutoff := m.now().Add(-30 * time.Minute).Unix()

	wq := &WorkQueue{CurrentEpoch: currentEpoch, MaxOrderIndex: -1}
	upcoming := 0
	for _, s := range m.songs {
		if s.PlaylistID != playlistID {
			continue
		}
		cp := copySong(s)
		wq.TotalSongs++
		if s.OrderIndex > wq.MaxOrderIndex {
			wq.MaxOrderIndex = s.OrderIndex
		}
		if s.Status.IsTransient() {
			wq.TransientCount++
			if s.UpdatedAtUnix < staleCutoff {
				wq.StaleSongs = append(wq.StaleSongs, cp)
			}
		}
		if s.OrderIndex > currentIdx && s.Status != model.SongError {
			upcoming++
		}
		switch s.Status {
		case model.SongPending:
			wq.Pending = append(wq.Pending, cp)
		case model.SongMetadataReady:
			wq.MetadataReady = append(wq.MetadataReady, cp)
		case model.SongGeneratingAudio:
			wq.GeneratingAudio = append(wq.GeneratingAudio, cp)
		case model.SongRetryPending:
			wq.RetryPending = append(wq.RetryPending, cp)
		case model.SongSubmittingToAce, model.SongSaving:
			wq.NeedsRecovery = append(wq.NeedsRecovery, cp)
		case model.SongReady, model.SongPlayed:
			wq.RecentCompleted = append(wq.RecentCompleted, cp)
			if s.CoverURL == "" {
				wq.NeedsCover = append(wq.NeedsCover, cp)
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(wq.RecentCompleted, func(i, j int) bool {
		return wq.RecentCompleted[i].OrderIndex > wq.RecentCompleted[j].OrderIndex
	})
	for _, s := range wq.RecentCompleted {
		if s.Metadata != nil {
			wq.RecentDescriptions = append(wq.RecentDescriptions,
				strings.TrimSpace(s.Metadata.Title+" by "+s.Metadata.Artist))
		}
	}
	if bufferTarget > upcoming {
		wq.BufferDeficit = bufferTarget - upcoming
	}
	return wq, nil
}

var _ Store = (*MemoryStore)(nil)
