// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/bus"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go driver
)

// SQLiteConfig defines standard SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// OpenSQLite initializes a SQLite connection pool with mandatory PRAGMAs.
// WAL mode and busy_timeout apply to every connection via the DSN.
func OpenSQLite(dbPath string, cfg SQLiteConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS playlists (
	id                  TEXT PRIMARY KEY,
	key                 TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL DEFAULT '',
	mode                TEXT NOT NULL DEFAULT 'endless',
	status              TEXT NOT NULL DEFAULT 'active',
	prompt              TEXT NOT NULL DEFAULT '',
	prompt_epoch        INTEGER NOT NULL DEFAULT 0,
	current_order_index INTEGER NOT NULL DEFAULT 0,
	last_seen_at        INTEGER NOT NULL DEFAULT 0,
	manager_brief       TEXT NOT NULL DEFAULT '',
	manager_plan        TEXT NOT NULL DEFAULT '',
	manager_epoch       INTEGER NOT NULL DEFAULT 0,
	generated_count     INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_playlists_key ON playlists(key);
CREATE INDEX IF NOT EXISTS idx_playlists_status ON playlists(status);

CREATE TABLE IF NOT EXISTS songs (
	id               TEXT PRIMARY KEY,
	playlist_id      TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	order_index      INTEGER NOT NULL,
	prompt_epoch     INTEGER NOT NULL DEFAULT 0,
	is_interrupt     INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'pending',
	prompt           TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '',
	ace_task_id      TEXT NOT NULL DEFAULT '',
	ace_submitted_at INTEGER NOT NULL DEFAULT 0,
	audio_url        TEXT NOT NULL DEFAULT '',
	storage_path     TEXT NOT NULL DEFAULT '',
	cover_url        TEXT NOT NULL DEFAULT '',
	user_rating      TEXT NOT NULL DEFAULT '',
	persona_extract  TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	UNIQUE(playlist_id, order_index)
);
CREATE INDEX IF NOT EXISTS idx_songs_playlist ON songs(playlist_id);
CREATE INDEX IF NOT EXISTS idx_songs_status ON songs(status);
`

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db   *sql.DB
	sink eventSink
	now  func() time.Time
}

// NewSQLiteStore opens the database at dbPath and applies the schema.
func NewSQLiteStore(dbPath string, b bus.Bus) (*SQLiteStore, error) {
	db, err := OpenSQLite(dbPath, DefaultSQLiteConfig())
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, sink: eventSink{bus: b}, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const songColumns = `id, playlist_id, order_index, prompt_epoch, is_interrupt, status, prompt,
	metadata, ace_task_id, ace_submitted_at, audio_url, storage_path, cover_url,
	user_rating, persona_extract, error_message, retry_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(r rowScanner) (*model.Song, error) {
	var sg model.Song
	var interrupt int
	var metadata string
	if err := r.Scan(&sg.ID, &sg.PlaylistID, &sg.OrderIndex, &sg.PromptEpoch, &interrupt,
		&sg.Status, &sg.Prompt, &metadata, &sg.AceTaskID, &sg.AceSubmittedAt,
		&sg.AudioURL, &sg.StoragePath, &sg.CoverURL, &sg.UserRating,
		&sg.PersonaExtract, &sg.ErrorMessage, &sg.RetryCount,
		&sg.CreatedAtUnix, &sg.UpdatedAtUnix); err != nil {
		return nil, err
	}
	sg.IsInterrupt = interrupt != 0
	if metadata != "" {
		var md model.Metadata
		if err := json.Unmarshal([]byte(metadata), &md); err == nil {
			sg.Metadata = &md
		}
	}
	return &sg, nil
}

const playlistColumns = `id, key, name, mode, status, prompt, prompt_epoch, current_order_index,
	last_seen_at, manager_brief, manager_plan, manager_epoch, generated_count, created_at, updated_at`

func scanPlaylist(r rowScanner) (*model.Playlist, error) {
	var p model.Playlist
	var plan string
	if err := r.Scan(&p.ID, &p.Key, &p.Name, &p.Mode, &p.Status, &p.Prompt, &p.PromptEpoch,
		&p.CurrentOrderIndex, &p.LastSeenAtUnix, &p.ManagerBrief, &plan, &p.ManagerEpoch,
		&p.GeneratedCount, &p.CreatedAtUnix, &p.UpdatedAtUnix); err != nil {
		return nil, err
	}
	if plan != "" {
		var mp model.ManagerPlan
		if err := json.Unmarshal([]byte(plan), &mp); err == nil {
			p.ManagerPlan = &mp
		}
	}
	return &p, nil
}

// --- PlaylistStore ---

func (s *SQLiteStore) CreatePlaylist(ctx context.Context, p *model.Playlist) error {
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
	now := s.now().Unix()
	p.CreatedAtUnix = now
	p.UpdatedAtUnix = now
	p.LastSeenAtUnix = now
	plan := ""
	if p.ManagerPlan != nil {
		b, _ := json.Marshal(p.ManagerPlan)
		plan = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO playlists
		(id, key, name, mode, status, prompt, prompt_epoch, current_order_index, last_seen_at,
		 manager_brief, manager_plan, manager_epoch, generated_count, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Key, p.Name, p.Mode, p.Status, p.Prompt, p.PromptEpoch, p.CurrentOrderIndex,
		p.LastSeenAtUnix, p.ManagerBrief, plan, p.ManagerEpoch, p.GeneratedCount,
		p.CreatedAtUnix, p.UpdatedAtUnix)
	if err != nil {
		return fmt.Errorf("create playlist: %w", err)
	}
	s.sink.publish(model.TopicPlaylistCreated, *p)
	return nil
}

func (s *SQLiteStore) getPlaylistWhere(ctx context.Context, where string, arg any) (*model.Playlist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playlistColumns+` FROM playlists WHERE `+where, arg)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	return s.getPlaylistWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetPlaylistByKey(ctx context.Context, key string) (*model.Playlist, error) {
	return s.getPlaylistWhere(ctx, "key = ?", key)
}

func (s *SQLiteStore) ListActivePlaylists(ctx context.Context) ([]*model.Playlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playlistColumns+` FROM playlists WHERE status != ? ORDER BY created_at`,
		model.PlaylistClosed)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdatePlaylistStatus(ctx context.Context, id string, status model.PlaylistStatus) error {
	var from model.PlaylistStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM playlists WHERE id = ?`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("playlist status read: %w", err)
	}
	if from == status {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, s.now().Unix(), id, from)
	if err != nil {
		return fmt.Errorf("playlist status update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}
	s.sink.playlistStatusChanged(id, from, status)
	return nil
}

func (s *SQLiteStore) UpdateManagerBrief(ctx context.Context, id, brief string, plan *model.ManagerPlan, epoch int) error {
	planJSON := ""
	if plan != nil {
		b, _ := json.Marshal(plan)
		planJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET manager_brief = ?, manager_plan = ?, manager_epoch = ?, updated_at = ?
		 WHERE id = ? AND prompt_epoch >= ?`,
		brief, planJSON, epoch, s.now().Unix(), id, epoch)
	if err != nil {
		return fmt.Errorf("update manager brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IncrementGenerated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET generated_count = generated_count + 1 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SteerPlaylist(ctx context.Context, id, prompt string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var status model.PlaylistStatus
	var epoch int
	err = tx.QueryRowContext(ctx, `SELECT status, prompt_epoch FROM playlists WHERE id = ?`, id).
		Scan(&status, &epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("steer read: %w", err)
	}
	if status == model.PlaylistClosed {
		return 0, ErrPlaylistClosed
	}
	newEpoch := epoch + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE playlists SET prompt = ?, prompt_epoch = ?, updated_at = ? WHERE id = ?`,
		prompt, newEpoch, s.now().Unix(), id); err != nil {
		return 0, fmt.Errorf("steer update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.sink.publish(model.TopicPlaylistSteered, model.PlaylistSteeredEvent{PlaylistID: id, NewEpoch: newEpoch})
	return newEpoch, nil
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET last_seen_at = ? WHERE id = ?`, s.now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.sink.publish(model.TopicPlaylistHeartbeat, model.PlaylistHeartbeatEvent{PlaylistID: id})
	return nil
}

func (s *SQLiteStore) AdvancePlaylist(ctx context.Context, id string, orderIndex int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET current_order_index = ?, updated_at = ?
		 WHERE id = ? AND current_order_index < ?`,
		orderIndex, s.now().Unix(), id, orderIndex)
	return err
}

func (s *SQLiteStore) DeletePlaylist(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.sink.publish(model.TopicPlaylistDeleted, model.PlaylistDeletedEvent{PlaylistID: id})
	return nil
}

// --- SongStore ---

func (s *SQLiteStore) GetSong(ctx context.Context, id string) (*model.Song, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	sg, err := scanSong(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get song: %w", err)
	}
	return sg, nil
}

func (s *SQLiteStore) querySongs(ctx context.Context, query string, args ...any) ([]*model.Song, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query songs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Song
	for rows.Next() {
		sg, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetSongsByIDs(ctx context.Context, ids []string) ([]*model.Song, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.querySongs(ctx,
		`SELECT `+songColumns+` FROM songs WHERE id IN (`+placeholders+`)`, args...)
}

func (s *SQLiteStore) ListSongsByPlaylist(ctx context.Context, playlistID string) ([]*model.Song, error) {
	return s.querySongs(ctx,
		`SELECT `+songColumns+` FROM songs WHERE playlist_id = ? ORDER BY order_index`, playlistID)
}

func (s *SQLiteStore) createSong(ctx context.Context, playlistID, prompt string, orderIndex, promptEpoch int, interrupt bool) (*model.Song, error) {
	p, err := s.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PlaylistActive {
		return nil, ErrPlaylistClosed
	}
	now := s.now().Unix()
	sg := &model.Song{
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
	flag := 0
	if interrupt {
		flag = 1
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO songs
		(id, playlist_id, order_index, prompt_epoch, is_interrupt, status, prompt, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		sg.ID, playlistID, orderIndex, promptEpoch, flag, sg.Status, prompt, now, now); err != nil {
		return nil, fmt.Errorf("create song: %w", err)
	}
	s.sink.songCreated(sg)
	return sg, nil
}

func (s *SQLiteStore) CreatePending(ctx context.Context, playlistID string, orderIndex, promptEpoch int) (*model.Song, error) {
	return s.createSong(ctx, playlistID, "", orderIndex, promptEpoch, false)
}

func (s *SQLiteStore) CreateInterrupt(ctx context.Context, playlistID, prompt string, orderIndex, promptEpoch int) (*model.Song, error) {
	return s.createSong(ctx, playlistID, prompt, orderIndex, promptEpoch, true)
}

func (s *SQLiteStore) DeleteSong(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteStalePending(ctx context.Context, playlistID string, epoch int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM songs WHERE playlist_id = ? AND status = ? AND prompt_epoch < ? AND is_interrupt = 0`,
		playlistID, model.SongPending, epoch)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// transition applies a CAS edge and publishes it. extra appends SET clauses.
// Songs of a closed playlist admit no edge at all.
func (s *SQLiteStore) transition(ctx context.Context, id string, from, to model.SongStatus, extraSet string, extraArgs ...any) (bool, error) {
	set := `status = ?, updated_at = ?`
	if extraSet != "" {
		set += ", " + extraSet
	}
	args := []any{to, s.now().Unix()}
	args = append(args, extraArgs...)
	args = append(args, id, from, model.PlaylistClosed)
	res, err := s.db.ExecContext(ctx,
		`UPDATE songs SET `+set+` WHERE id = ? AND status = ?
		 AND playlist_id NOT IN (SELECT id FROM playlists WHERE status = ?)`, args...)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var plStatus model.PlaylistStatus
		err := s.db.QueryRowContext(ctx,
			`SELECT p.status FROM songs sg JOIN playlists p ON p.id = sg.playlist_id WHERE sg.id = ?`,
			id).Scan(&plStatus)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return false, ErrNotFound
		case err != nil:
			return false, err
		case plStatus == model.PlaylistClosed:
			return false, ErrPlaylistClosed
		}
		return false, nil
	}
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return true, nil
	}
	s.sink.songStatusChanged(sg, from, to)
	return true, nil
}

func (s *SQLiteStore) ClaimMetadata(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, model.SongPending, model.SongGeneratingMetadata, "")
}

func (s *SQLiteStore) ClaimAudio(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, model.SongMetadataReady, model.SongSubmittingToAce, "")
}

func (s *SQLiteStore) CompleteMetadata(ctx context.Context, id string, md *model.Metadata) error {
	b, _ := json.Marshal(md)
	ok, err := s.transition(ctx, id, model.SongGeneratingMetadata, model.SongMetadataReady,
		"metadata = ?", string(b))
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) UpdateCover(ctx context.Context, id, coverURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE songs SET cover_url = ?, updated_at = ? WHERE id = ?`,
		coverURL, s.now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateAceTask(ctx context.Context, id, taskID string, submittedAtUnix int64) error {
	ok, err := s.transition(ctx, id, model.SongSubmittingToAce, model.SongGeneratingAudio,
		"ace_task_id = ?, ace_submitted_at = ?", taskID, submittedAtUnix)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) UpdateStoragePath(ctx context.Context, id, storagePath, audioURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE songs SET storage_path = ?, audio_url = ?, updated_at = ? WHERE id = ?`,
		storagePath, audioURL, s.now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateAudioDuration(ctx context.Context, id string, seconds float64) error {
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return err
	}
	md := sg.Metadata
	if md == nil {
		md = &model.Metadata{}
	}
	md.AudioDuration = seconds
	b, _ := json.Marshal(md)
	_, err = s.db.ExecContext(ctx,
		`UPDATE songs SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(b), s.now().Unix(), id)
	return err
}

func (s *SQLiteStore) MarkReady(ctx context.Context, id string) error {
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return err
	}
	if sg.AudioURL == "" {
		return fmt.Errorf("mark ready %s: audio url is empty", id)
	}
	ok, err := s.transition(ctx, id, model.SongSaving, model.SongReady, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) MarkError(ctx context.Context, id, message string) error {
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return err
	}
	from := sg.Status
	if from == model.SongError {
		_, err := s.db.ExecContext(ctx,
			`UPDATE songs SET error_message = ? WHERE id = ?`, message, id)
		return err
	}
	ok, err := s.transition(ctx, id, from, model.SongError, "error_message = ?", message)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) RetryErrored(ctx context.Context, id string) error {
	ok, err := s.transition(ctx, id, model.SongError, model.SongRetryPending,
		"retry_count = retry_count + 1, error_message = ''")
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) RevertTransient(ctx context.Context, id string, to model.SongStatus) error {
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return err
	}
	from := sg.Status
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	extra := ""
	if to == model.SongMetadataReady || to == model.SongPending {
		extra = "ace_task_id = '', ace_submitted_at = 0"
	}
	ok, err := s.transition(ctx, id, from, to, extra)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) UpdateSongStatus(ctx context.Context, id string, status model.SongStatus) error {
	sg, err := s.GetSong(ctx, id)
	if err != nil {
		return err
	}
	from := sg.Status
	if from == status {
		return nil
	}
	if !from.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, status)
	}
	ok, err := s.transition(ctx, id, from, status, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

func (s *SQLiteStore) GetInAudioPipeline(ctx context.Context) ([]*model.Song, error) {
	return s.querySongs(ctx,
		`SELECT `+songColumns+` FROM songs WHERE status IN (?,?,?)`,
		model.SongSubmittingToAce, model.SongGeneratingAudio, model.SongSaving)
}

func (s *SQLiteStore) GetNeedsPersona(ctx context.Context, limit int) ([]*model.Song, error) {
	return s.querySongs(ctx,
		`SELECT `+songColumns+` FROM songs WHERE status = ? AND persona_extract = '' LIMIT ?`,
		model.SongReady, limit)
}

func (s *SQLiteStore) UpdatePersonaExtract(ctx context.Context, id, persona string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE songs SET persona_extract = ?, updated_at = ? WHERE id = ?`,
		persona, s.now().Unix(), id)
	return err
}

func (s *SQLiteStore) UpdateUserRating(ctx context.Context, id string, rating model.UserRating) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE songs SET user_rating = ?, updated_at = ? WHERE id = ?`,
		rating, s.now().Unix(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecentReady(ctx context.Context, playlistID string, n int) ([]*model.Song, error) {
	return s.querySongs(ctx,
		`SELECT `+songColumns+` FROM songs WHERE playlist_id = ? AND status IN (?,?)
		 ORDER BY order_index DESC LIMIT ?`,
		playlistID, model.SongReady, model.SongPlayed, n)
}

func (s *SQLiteStore) GetWorkQueue(ctx context.Context, playlistID string, bufferTarget int) (*WorkQueue, error) {
	p, err := s.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	songs, err := s.ListSongsByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	staleCutoff := s.now().Add(-30 * time.Minute).Unix()
	wq := &WorkQueue{CurrentEpoch: p.PromptEpoch, MaxOrderIndex: -1}
	upcoming := 0
	for _, sg := range songs {
		wq.TotalSongs++
		if sg.OrderIndex > wq.MaxOrderIndex {
			wq.MaxOrderIndex = sg.OrderIndex
		}
		if sg.Status.IsTransient() {
			wq.TransientCount++
			if sg.UpdatedAtUnix < staleCutoff {
				wq.StaleSongs = append(wq.StaleSongs, sg)
			}
		}
		if sg.OrderIndex > p.CurrentOrderIndex && sg.Status != model.SongError {
			upcoming++
		}
		switch sg.Status {
		case model.SongPending:
			wq.Pending = append(wq.Pending, sg)
		case model.SongMetadataReady:
			wq.MetadataReady = append(wq.MetadataReady, sg)
		case model.SongGeneratingAudio:
			wq.GeneratingAudio = append(wq.GeneratingAudio, sg)
		case model.SongRetryPending:
			wq.RetryPending = append(wq.RetryPending, sg)
		case model.SongSubmittingToAce, model.SongSaving:
			wq.NeedsRecovery = append(wq.NeedsRecovery, sg)
		case model.SongReady, model.SongPlayed:
			wq.RecentCompleted = append(wq.RecentCompleted, sg)
			if sg.CoverURL == "" {
				wq.NeedsCover = append(wq.NeedsCover, sg)
			}
		}
	}
	// Most recent first for the dedup window.
	for i, j := 0, len(wq.RecentCompleted)-1; i < j; i, j = i+1, j-1 {
		wq.RecentCompleted[i], wq.RecentCompleted[j] = wq.RecentCompleted[j], wq.RecentCompleted[i]
	}
	for _, sg := range wq.RecentCompleted {
		if sg.Metadata != nil {
			wq.RecentDescriptions = append(wq.RecentDescriptions,
				strings.TrimSpace(sg.Metadata.Title+" by "+sg.Metadata.Artist))
		}
	}
	if bufferTarget > upcoming {
		wq.BufferDeficit = bufferTarget - upcoming
	}
	return wq, nil
}

var _ Store = (*SQLiteStore)(nil)
