// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/stretchr/testify/require"
)

// fakeServer mimics the generation server REST surface for one playlist.
type fakeServer struct {
	mu         sync.Mutex
	songs      []*model.Song
	played     []string
	heartbeats int
	srv        *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/playlists/{id}/songs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"songs": f.songs})
	})
	mux.HandleFunc("POST /api/playlists/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.heartbeats++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/songs/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.played = append(f.played, id)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) addReady(id string, orderIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.songs = append(f.songs, &model.Song{
		ID:         id,
		OrderIndex: orderIndex,
		Status:     model.SongReady,
		AudioURL:   f.srv.URL + "/audio/" + id + ".mp3",
		Metadata:   &model.Metadata{Title: strings.ToUpper(id), Artist: "Fake"},
	})
}

func (f *fakeServer) playedSongs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type queueRecorder struct {
	mu      sync.Mutex
	queue   []model.QueueEntry
	current *model.QueueEntry
}

func (r *queueRecorder) setQueue(q []model.QueueEntry, current *model.QueueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = q
	r.current = current
}

func (r *queueRecorder) setCurrent(current *model.QueueEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = current
}

func startLocalPlayer(t *testing.T, f *fakeServer) (*LocalPlayer, *MockEngine, *queueRecorder) {
	t.Helper()
	engine := NewMockEngine()
	rec := &queueRecorder{}
	lp := NewLocalPlayer(LocalPlayerConfig{
		PlaylistID: "pl-1",
		Poll:       50 * time.Millisecond,
		Heartbeat:  50 * time.Millisecond,
	}, NewAPIClient(f.srv.URL), engine, rec)
	lp.Start(context.Background())
	t.Cleanup(lp.Stop)
	return lp, engine, rec
}

func TestLocalPlayerPlaysInOrder(t *testing.T) {
	f := newFakeServer(t)
	f.addReady("sg-b", 1)
	f.addReady("sg-a", 0)

	_, engine, _ := startLocalPlayer(t, f)

	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.SongID == "sg-a" && snap.Playing
	}, 2*time.Second, 10*time.Millisecond)

	engine.FinishSong()
	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.SongID == "sg-b" && snap.Playing
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"sg-a"}, f.playedSongs())
}

func TestLocalPlayerSkipReportsPlayed(t *testing.T) {
	f := newFakeServer(t)
	f.addReady("sg-a", 0)
	f.addReady("sg-b", 1)

	lp, engine, _ := startLocalPlayer(t, f)
	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.SongID == "sg-a"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, lp.Skip(context.Background()))
	require.Eventually(t, func() bool {
		snap, _ := engine.Snapshot(context.Background())
		return snap.SongID == "sg-b"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"sg-a"}, f.playedSongs())
}

func TestLocalPlayerSendsHeartbeats(t *testing.T) {
	f := newFakeServer(t)
	startLocalPlayer(t, f)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.heartbeats >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalPlayerPublishesQueue(t *testing.T) {
	f := newFakeServer(t)
	f.addReady("sg-a", 0)
	f.addReady("sg-b", 1)

	_, _, rec := startLocalPlayer(t, f)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.queue) == 2 && rec.current != nil && rec.current.SongID == "sg-a"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusHTTPIsReadOnlyJSON(t *testing.T) {
	engine := NewMockEngine()
	ctrl := NewController(config.Defaults().Daemon, engine,
		filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))
	srv := httptest.NewServer(NewStatusHTTP(ctrl).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, ModeIdle, st.Mode)

	post, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = post.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)

	missing, err := http.Get(srv.URL + "/definitely-not-here")
	require.NoError(t, err)
	defer func() { _ = missing.Body.Close() }()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}
