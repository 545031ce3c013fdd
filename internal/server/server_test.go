// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/fsutil"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/room"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/stretchr/testify/require"
)

type stubInterrupter struct {
	lastPlaylist string
	lastPrompt   string
	song         *model.Song
	err          error
}

func (s *stubInterrupter) Interrupt(_ context.Context, playlistID, prompt string) (*model.Song, error) {
	s.lastPlaylist = playlistID
	s.lastPrompt = prompt
	return s.song, s.err
}

type testEnv struct {
	store   *store.MemoryStore
	storage *fsutil.Root
	stub    *stubInterrupter
	url     string
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore(nil)
	storage, err := fsutil.NewRoot(t.TempDir())
	require.NoError(t, err)
	stub := &stubInterrupter{}
	hub := room.NewHub(st, config.Defaults().Rooms)
	t.Cleanup(hub.Close)

	router := NewRouter(RouterDeps{
		Handlers: NewHandlers(st, stub),
		Hub:      hub,
		Storage:  storage,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{store: st, storage: storage, stub: stub, url: srv.URL, client: srv.Client()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.url+path, &buf)
	require.NoError(t, err)
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `"ok"`, string(body["status"]))
}

func TestCreateAndFetchPlaylist(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/playlists",
		map[string]string{"key": "kitchen", "prompt": "lofi beats"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var id string
	require.NoError(t, json.Unmarshal(body["id"], &id))
	require.NotEmpty(t, id)

	resp, body = env.do(t, http.MethodGet, "/api/playlists/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `"kitchen"`, string(body["key"]))
	require.JSONEq(t, `"lofi beats"`, string(body["prompt"]))
}

func TestCreatePlaylistRequiresPrompt(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/playlists", map[string]string{"key": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPlaylistNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/playlists/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSteerBumpsEpoch(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "start"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))

	resp, body := env.do(t, http.MethodPost, "/api/playlists/"+pl.ID+"/steer",
		map[string]string{"prompt": "more jazz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, "1", string(body["promptEpoch"]))

	got, err := env.store.GetPlaylist(context.Background(), pl.ID)
	require.NoError(t, err)
	require.Equal(t, "more jazz", got.Prompt)
	require.Equal(t, 1, got.PromptEpoch)
}

func TestInterruptDelegates(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "start"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))
	env.stub.song = &model.Song{ID: "sg-1", PlaylistID: pl.ID, IsInterrupt: true}

	resp, body := env.do(t, http.MethodPost, "/api/playlists/"+pl.ID+"/interrupt",
		map[string]string{"prompt": "play something epic"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.JSONEq(t, `"sg-1"`, string(body["id"]))
	require.Equal(t, pl.ID, env.stub.lastPlaylist)
	require.Equal(t, "play something epic", env.stub.lastPrompt)
}

func TestHeartbeatTouchesPlaylist(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "p"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))

	resp, _ := env.do(t, http.MethodPost, "/api/playlists/"+pl.ID+"/heartbeat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSongStatusRejectsPipelineStates(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "p"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))
	sg, err := env.store.CreatePending(context.Background(), pl.ID, 0, 0)
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodPost, "/api/songs/"+sg.ID+"/status",
		map[string]string{"status": "generating_audio"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// played on a pending song is a state-machine conflict, not a bad request
	resp, _ = env.do(t, http.MethodPost, "/api/songs/"+sg.ID+"/status",
		map[string]string{"status": "played"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRateSong(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "p"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))
	sg, err := env.store.CreatePending(context.Background(), pl.ID, 0, 0)
	require.NoError(t, err)

	resp, _ := env.do(t, http.MethodPost, "/api/songs/"+sg.ID+"/rating",
		map[string]string{"rating": "up"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := env.store.GetSong(context.Background(), sg.ID)
	require.NoError(t, err)
	require.Equal(t, model.RatingUp, got.UserRating)

	resp, _ = env.do(t, http.MethodPost, "/api/songs/"+sg.ID+"/rating",
		map[string]string{"rating": "sideways"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAudioFileServer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.storage.WriteFile("songs/a.mp3", []byte("mp3bytes"))
	require.NoError(t, err)

	resp, err := env.client.Get(env.url + "/audio/songs/a.mp3")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = env.client.Get(env.url + "/audio/..%2f..%2fetc%2fpasswd")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSongsSortedByOrderIndex(t *testing.T) {
	env := newTestEnv(t)
	pl := &model.Playlist{Key: "k", Prompt: "p"}
	require.NoError(t, env.store.CreatePlaylist(context.Background(), pl))
	for _, idx := range []int{2, 0, 1} {
		_, err := env.store.CreatePending(context.Background(), pl.ID, idx, 0)
		require.NoError(t, err)
	}

	resp, body := env.do(t, http.MethodGet, fmt.Sprintf("/api/playlists/%s/songs", pl.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var songs []model.Song
	require.NoError(t, json.Unmarshal(body["songs"], &songs))
	require.Len(t, songs, 3)
	for i, sg := range songs {
		require.Equal(t, i, sg.OrderIndex)
	}
}
