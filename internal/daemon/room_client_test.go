// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/room"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/stretchr/testify/require"
)

type roomEventRecorder struct {
	queueRecorder
	mu2        sync.Mutex
	joinedRoom string
	joinedPl   string
	stale      bool
}

func (r *roomEventRecorder) onRoomJoined(roomID, playlistID string) {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	r.joinedRoom = roomID
	r.joinedPl = playlistID
}

func (r *roomEventRecorder) onRoomStale() {
	r.mu2.Lock()
	defer r.mu2.Unlock()
	r.stale = true
}

func newRoomServer(t *testing.T, st store.Store) string {
	t.Helper()
	hub := room.NewHub(st, config.Defaults().Rooms)
	t.Cleanup(hub.Close)
	mux := http.NewServeMux()
	mux.Handle("/ws/room", room.Handler(hub))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func readySong(t *testing.T, st store.Store, playlistID string, orderIndex int) *model.Song {
	t.Helper()
	ctx := context.Background()
	sg, err := st.CreatePending(ctx, playlistID, orderIndex, 0)
	require.NoError(t, err)
	_, err = st.ClaimMetadata(ctx, sg.ID)
	require.NoError(t, err)
	require.NoError(t, st.CompleteMetadata(ctx, sg.ID, &model.Metadata{
		Title: fmt.Sprintf("Song %d", orderIndex), Artist: "Test",
	}))
	_, err = st.ClaimAudio(ctx, sg.ID)
	require.NoError(t, err)
	require.NoError(t, st.UpdateAceTask(ctx, sg.ID, "t", 1))
	require.NoError(t, st.UpdateSongStatus(ctx, sg.ID, model.SongSaving))
	require.NoError(t, st.UpdateStoragePath(ctx, sg.ID, "/m.mp3", "http://x/m.mp3"))
	require.NoError(t, st.MarkReady(ctx, sg.ID))
	return sg
}

func startRoomClient(t *testing.T, serverURL, playlistKey string) (*RoomClient, *MockEngine, *roomEventRecorder) {
	t.Helper()
	engine := NewMockEngine()
	rec := &roomEventRecorder{}
	rc, err := NewRoomClient(RoomClientConfig{
		ServerURL:   serverURL,
		PlaylistKey: playlistKey,
		DeviceName:  "test-device",
		SyncPulse:   50 * time.Millisecond,
	}, engine, rec)
	require.NoError(t, err)
	rc.Start(context.Background())
	t.Cleanup(rc.Close)
	return rc, engine, rec
}

func TestRoomClientJoinsAndReportsIDs(t *testing.T) {
	st := store.NewMemoryStore(nil)
	pl := &model.Playlist{Key: "kitchen", Prompt: "p"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	url := newRoomServer(t, st)

	rc, _, rec := startRoomClient(t, url, "kitchen")

	require.Eventually(t, rc.Connected, 2*time.Second, 10*time.Millisecond)
	rec.mu2.Lock()
	defer rec.mu2.Unlock()
	require.NotEmpty(t, rec.joinedRoom)
	require.Equal(t, pl.ID, rec.joinedPl)
}

func TestRoomClientStartsScheduledSong(t *testing.T) {
	st := store.NewMemoryStore(nil)
	pl := &model.Playlist{Key: "kitchen", Prompt: "p"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	sg := readySong(t, st, pl.ID, 0)
	url := newRoomServer(t, st)

	rc, engine, _ := startRoomClient(t, url, "kitchen")
	require.Eventually(t, rc.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rc.SendCommand("play", 0, ""))
	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.SongID == sg.ID && snap.Playing
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRoomClientAppliesVolumeExecutes(t *testing.T) {
	st := store.NewMemoryStore(nil)
	pl := &model.Playlist{Key: "kitchen", Prompt: "p"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	url := newRoomServer(t, st)

	rc, engine, _ := startRoomClient(t, url, "kitchen")
	require.Eventually(t, rc.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rc.SendCommand("setVolume", 0.3, ""))
	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.Volume == 0.3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomClientClearsStaleSession(t *testing.T) {
	st := store.NewMemoryStore(nil)
	url := newRoomServer(t, st)

	rc, _, rec := startRoomClient(t, url, "deleted-playlist")

	require.Eventually(t, func() bool {
		rec.mu2.Lock()
		defer rec.mu2.Unlock()
		return rec.stale
	}, 2*time.Second, 10*time.Millisecond)
	require.False(t, rc.Connected())
}

func TestJoinRoomBlocksUntilConnected(t *testing.T) {
	st := store.NewMemoryStore(nil)
	pl := &model.Playlist{Key: "kitchen", Prompt: "p"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	url := newRoomServer(t, st)

	dir := t.TempDir()
	ctrl := NewController(config.Defaults().Daemon, NewMockEngine(), filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.JoinRoom(url, "", "kitchen"))

	// No polling: the join reply already implies a live connection.
	st2 := ctrl.Status(context.Background())
	require.Equal(t, ModeRoom, st2.Mode)
	require.True(t, st2.Connected)
}

func TestJoinRoomSameKeyIsNoOp(t *testing.T) {
	st := store.NewMemoryStore(nil)
	pl := &model.Playlist{Key: "kitchen", Prompt: "p"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	url := newRoomServer(t, st)

	dir := t.TempDir()
	ctrl := NewController(config.Defaults().Daemon, NewMockEngine(), filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	require.NoError(t, ctrl.JoinRoom(url, "", "kitchen"))
	first := ctrl.room

	require.NoError(t, ctrl.JoinRoom(url, "", "kitchen"))
	require.Same(t, first, ctrl.room)
	require.True(t, first.Connected())
}

func TestJoinRoomUnknownKeyIsStale(t *testing.T) {
	st := store.NewMemoryStore(nil)
	url := newRoomServer(t, st)

	dir := t.TempDir()
	ctrl := NewController(config.Defaults().Daemon, NewMockEngine(), filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Stop)

	err := ctrl.JoinRoom(url, "", "deleted-playlist")
	require.ErrorIs(t, err, ErrStaleRoomSession)
}

func TestSyncPulseSurvivesEarlyTick(t *testing.T) {
	rc, err := NewRoomClient(RoomClientConfig{
		ServerURL: "http://localhost:0",
		SyncPulse: time.Millisecond,
	}, NewMockEngine(), &roomEventRecorder{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tick := make(chan time.Time, 2)
	pulseDone := make(chan struct{})
	go func() {
		defer close(pulseDone)
		rc.pulseLoop(ctx, tick)
	}()

	// A tick before the joinAck must not kill the loop.
	tick <- time.Now()

	rc.mu.Lock()
	rc.connected = true
	rc.mu.Unlock()
	tick <- time.Now()

	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return !rc.probeSent.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-pulseDone
}

func TestRoomModePlayAppliesLocallyFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	engine := NewMockEngine()
	ctrl := NewController(config.Defaults().Daemon, engine, filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(ctx))

	// A room client with no live socket: the relay fails, which isolates the
	// optimistic local apply.
	rc, err := NewRoomClient(RoomClientConfig{ServerURL: "http://localhost:0"}, engine, &roomEventRecorder{})
	require.NoError(t, err)
	ctrl.mu.Lock()
	ctrl.room = rc
	ctrl.session.Mode = ModeRoom
	ctrl.mu.Unlock()

	require.Error(t, ctrl.Play(ctx))
	snap, err := engine.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap.Playing)

	require.Error(t, ctrl.Pause(ctx))
	snap, err = engine.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, snap.Playing)
}
