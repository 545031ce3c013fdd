// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T) (*Hub, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	hub := NewHub(st, config.Rooms{
		StartAtBuffer: 50 * time.Millisecond,
		DriftBound:    500 * time.Millisecond,
	})
	t.Cleanup(hub.Close)
	return hub, st
}

func testServer(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(Handler(hub))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(NewEnvelope(kind, payload)))
}

// awaitKind reads frames until one of the wanted kind arrives.
func awaitKind(t *testing.T, conn *websocket.Conn, kind string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == kind {
			return env
		}
	}
	t.Fatalf("no %s frame arrived", kind)
	return Envelope{}
}

func decodeAs[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func makePlaylist(t *testing.T, st store.Store, key string) *model.Playlist {
	t.Helper()
	pl := &model.Playlist{Key: key, Name: "Test Radio", Prompt: "test"}
	require.NoError(t, st.CreatePlaylist(context.Background(), pl))
	return pl
}

func makeReady(t *testing.T, st store.Store, playlistID string, orderIndex int) *model.Song {
	t.Helper()
	ctx := context.Background()
	sg, err := st.CreatePending(ctx, playlistID, orderIndex, 0)
	require.NoError(t, err)
	_, err = st.ClaimMetadata(ctx, sg.ID)
	require.NoError(t, err)
	require.NoError(t, st.CompleteMetadata(ctx, sg.ID, &model.Metadata{
		Title:  fmt.Sprintf("Song %d", orderIndex),
		Artist: "Test Artist",
	}))
	_, err = st.ClaimAudio(ctx, sg.ID)
	require.NoError(t, err)
	require.NoError(t, st.UpdateAceTask(ctx, sg.ID, fmt.Sprintf("t-%d", orderIndex), 1))
	require.NoError(t, st.UpdateSongStatus(ctx, sg.ID, model.SongSaving))
	require.NoError(t, st.UpdateStoragePath(ctx, sg.ID,
		fmt.Sprintf("/m/%d.mp3", orderIndex), fmt.Sprintf("http://x/%d.mp3", orderIndex)))
	require.NoError(t, st.MarkReady(ctx, sg.ID))
	return sg
}

func joinRoom(t *testing.T, conn *websocket.Conn, key string) JoinAckPayload {
	t.Helper()
	send(t, conn, KindJoin, JoinPayload{PlaylistKey: key, DeviceName: "test", Role: "player"})
	return decodeAs[JoinAckPayload](t, awaitKind(t, conn, KindJoinAck))
}

func TestJoinAutoCreatesRoom(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "living-room")
	makeReady(t, st, pl.ID, 0)
	url := testServer(t, hub)

	conn := dial(t, url)
	ack := joinRoom(t, conn, "living-room")
	require.Equal(t, ProtocolVersion, ack.ProtocolVersion)
	require.NotEmpty(t, ack.RoomID)
	require.NotEmpty(t, ack.DeviceID)
	require.Equal(t, pl.ID, ack.PlaylistID)

	// Immediate state and queue follow the ack.
	state := decodeAs[StatePayload](t, awaitKind(t, conn, KindState))
	require.False(t, state.Playback.IsPlaying)
	q := decodeAs[QueuePayload](t, awaitKind(t, conn, KindQueue))
	require.Len(t, q.Songs, 1)
	require.Equal(t, "Song 0", q.Songs[0].Title)
}

func TestJoinUnknownPlaylistIsStaleSession(t *testing.T) {
	hub, _ := testHub(t)
	url := testServer(t, hub)

	conn := dial(t, url)
	send(t, conn, KindJoin, JoinPayload{PlaylistKey: "never-created"})
	errPayload := decodeAs[ErrorPayload](t, awaitKind(t, conn, KindError))
	require.Equal(t, ErrCodeStaleRoomSession, errPayload.Code)
}

func TestPingPongCarriesBothClocks(t *testing.T) {
	hub, st := testHub(t)
	makePlaylist(t, st, "k")
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	before := time.Now().UnixMilli()
	send(t, conn, KindPing, PingPayload{ClientTime: 12345})
	pong := decodeAs[PongPayload](t, awaitKind(t, conn, KindPong))
	require.Equal(t, int64(12345), pong.ClientTime)
	require.GreaterOrEqual(t, pong.ServerTime, before)
}

func TestMonotoneStartAt(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "k")
	s0 := makeReady(t, st, pl.ID, 0)
	s1 := makeReady(t, st, pl.ID, 1)
	makeReady(t, st, pl.ID, 2)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindSongEnded, SongEndedPayload{})
	first := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))
	require.Equal(t, s0.ID, first.SongID)

	send(t, conn, KindSongEnded, SongEndedPayload{SongID: s0.ID})
	second := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))
	require.Equal(t, s1.ID, second.SongID)
	require.GreaterOrEqual(t, second.StartAt, first.StartAt)

	// The consumed song is marked played and the pointer advanced.
	require.Eventually(t, func() bool {
		sg, err := st.GetSong(context.Background(), s0.ID)
		return err == nil && sg.Status == model.SongPlayed
	}, time.Second, 10*time.Millisecond)
	gotPl, err := st.GetPlaylist(context.Background(), pl.ID)
	require.NoError(t, err)
	require.Equal(t, 0, gotPl.CurrentOrderIndex)
}

func TestPlayStartsFreshRoom(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "k")
	s0 := makeReady(t, st, pl.ID, 0)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindCommand, CommandPayload{Action: ActionPlay})
	next := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))
	require.Equal(t, s0.ID, next.SongID)
	require.Greater(t, next.StartAt, int64(0))
}

func TestSongEndedBroadcastsPreload(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "k")
	makeReady(t, st, pl.ID, 0)
	s1 := makeReady(t, st, pl.ID, 1)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindSongEnded, SongEndedPayload{})
	preload := decodeAs[PreloadPayload](t, awaitKind(t, conn, KindPreload))
	require.Equal(t, s1.ID, preload.SongID)
	require.NotEmpty(t, preload.AudioURL)
}

func TestVolumeClampsToUnitRange(t *testing.T) {
	hub, st := testHub(t)
	makePlaylist(t, st, "k")
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindCommand, CommandPayload{Action: ActionSetVolume, Value: 2.5})
	exec := decodeAs[ExecutePayload](t, awaitKind(t, conn, KindExecute))
	require.Equal(t, ActionSetVolume, exec.Action)
	require.Equal(t, 1.0, exec.Value)

	send(t, conn, KindCommand, CommandPayload{Action: ActionSetVolume, Value: -3})
	exec = decodeAs[ExecutePayload](t, awaitKind(t, conn, KindExecute))
	require.Equal(t, 0.0, exec.Value)
}

func TestDriftTriggersSeek(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "k")
	s0 := makeReady(t, st, pl.ID, 0)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindSongEnded, SongEndedPayload{})
	next := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))
	require.Equal(t, s0.ID, next.SongID)

	// Report a playhead far from the authoritative one.
	send(t, conn, KindSync, SyncPayload{SongID: s0.ID, IsPlaying: true, CurrentTime: 500})
	exec := decodeAs[ExecutePayload](t, awaitKind(t, conn, KindExecute))
	require.Equal(t, ActionSeek, exec.Action)
	require.Less(t, exec.Value, 500.0)
}

func TestSmallDriftIsIgnored(t *testing.T) {
	hub, st := testHub(t)
	pl := makePlaylist(t, st, "k")
	s0 := makeReady(t, st, pl.ID, 0)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	send(t, conn, KindSongEnded, SongEndedPayload{})
	next := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))

	// Wait until playback nominally started, then report near-zero drift.
	time.Sleep(time.Until(time.UnixMilli(next.StartAt)) + 20*time.Millisecond)
	elapsed := time.Since(time.UnixMilli(next.StartAt)).Seconds()
	send(t, conn, KindSync, SyncPayload{SongID: s0.ID, IsPlaying: true, CurrentTime: elapsed})

	// The pong must arrive with no seek in between.
	send(t, conn, KindPing, PingPayload{ClientTime: 1})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.NotEqual(t, KindExecute, env.Type)
		if env.Type == KindPong {
			return
		}
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	hub, st := testHub(t)
	makePlaylist(t, st, "k")
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "k")

	require.NoError(t, conn.WriteJSON(Envelope{Type: "bogus"}))
	errPayload := decodeAs[ErrorPayload](t, awaitKind(t, conn, KindError))
	require.Contains(t, errPayload.Message, "bogus")

	// Channel still works.
	send(t, conn, KindPing, PingPayload{ClientTime: 7})
	pong := decodeAs[PongPayload](t, awaitKind(t, conn, KindPong))
	require.Equal(t, int64(7), pong.ClientTime)
}

func TestTwoDevicesShareOneRoom(t *testing.T) {
	hub, st := testHub(t)
	makePlaylist(t, st, "k")
	url := testServer(t, hub)

	a := dial(t, url)
	ackA := joinRoom(t, a, "k")

	b := dial(t, url)
	send(t, b, KindJoin, JoinPayload{RoomID: ackA.RoomID, DeviceName: "second"})
	ackB := decodeAs[JoinAckPayload](t, awaitKind(t, b, KindJoinAck))
	require.Equal(t, ackA.RoomID, ackB.RoomID)
	require.NotEqual(t, ackA.DeviceID, ackB.DeviceID)

	// A command from b reaches a as an execute broadcast.
	send(t, b, KindCommand, CommandPayload{Action: ActionPause})
	exec := decodeAs[ExecutePayload](t, awaitKind(t, a, KindExecute))
	require.Equal(t, ActionPause, exec.Action)
}

func TestJoinHonorsClientDeviceID(t *testing.T) {
	hub, st := testHub(t)
	makePlaylist(t, st, "kitchen")
	url := testServer(t, hub)

	conn := dial(t, url)
	send(t, conn, KindJoin, JoinPayload{
		PlaylistKey: "kitchen",
		RoomName:    "Kitchen",
		DeviceID:    "d1",
		DeviceName:  "tablet",
		Role:        "player",
	})
	ack := decodeAs[JoinAckPayload](t, awaitKind(t, conn, KindJoinAck))
	require.Equal(t, "d1", ack.DeviceID)
	require.Equal(t, "Kitchen", ack.RoomName)

	// A reconnect under the same id replaces the previous device and drops
	// its connection.
	conn2 := dial(t, url)
	send(t, conn2, KindJoin, JoinPayload{RoomID: ack.RoomID, DeviceID: "d1", DeviceName: "tablet", Role: "player"})
	ack2 := decodeAs[JoinAckPayload](t, awaitKind(t, conn2, KindJoinAck))
	require.Equal(t, ack.RoomID, ack2.RoomID)
	require.Equal(t, "d1", ack2.DeviceID)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
	}
}

func TestNoDriftSeekBeforeStartAt(t *testing.T) {
	st := store.NewMemoryStore(nil)
	hub := NewHub(st, config.Rooms{
		StartAtBuffer: 2 * time.Second,
		DriftBound:    500 * time.Millisecond,
	})
	t.Cleanup(hub.Close)
	pl := makePlaylist(t, st, "patio")
	sg := makeReady(t, st, pl.ID, 0)
	url := testServer(t, hub)

	conn := dial(t, url)
	joinRoom(t, conn, "patio")
	send(t, conn, KindCommand, CommandPayload{Action: ActionPlay})
	next := decodeAs[NextSongPayload](t, awaitKind(t, conn, KindNextSong))
	require.Equal(t, sg.ID, next.SongID)

	// The engine is still winding up to startAt; a zero playhead is not drift.
	send(t, conn, KindSync, SyncPayload{SongID: sg.ID, IsPlaying: true, CurrentTime: 0})
	send(t, conn, KindPing, PingPayload{ClientTime: 1})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.NotEqual(t, KindExecute, env.Type)
		if env.Type == KindPong {
			return
		}
	}
}
