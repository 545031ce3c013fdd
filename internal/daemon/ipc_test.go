// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/stretchr/testify/require"
)

type ipcHarness struct {
	engine *MockEngine
	ctrl   *Controller
	conn   net.Conn
	rd     *bufio.Reader
}

func newIPCHarness(t *testing.T) *ipcHarness {
	t.Helper()
	dir := t.TempDir()
	engine := NewMockEngine()
	ctrl := NewController(config.Defaults().Daemon, engine, filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))

	srv := NewIPCServer(ctrl, 2*time.Second)
	sock := filepath.Join(dir, "ipc.sock")
	require.NoError(t, srv.Listen(sock))

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-serveDone
	})

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &ipcHarness{engine: engine, ctrl: ctrl, conn: conn, rd: bufio.NewReader(conn)}
}

func (h *ipcHarness) call(t *testing.T, id, action string, payload any) IPCResponse {
	t.Helper()
	req := IPCRequest{ID: id, Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		req.Payload = data
	}
	line, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = h.conn.Write(append(line, '\n'))
	require.NoError(t, err)

	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	raw, err := h.rd.ReadBytes('\n')
	require.NoError(t, err)
	var resp IPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestIPCEchoesRequestID(t *testing.T) {
	h := newIPCHarness(t)
	resp := h.call(t, "req-42", "status", nil)
	require.Equal(t, "req-42", resp.ID)
	require.True(t, resp.OK)

	var st Status
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	require.Equal(t, ModeIdle, st.Mode)
}

func TestIPCPlayIsIdempotent(t *testing.T) {
	h := newIPCHarness(t)
	require.NoError(t, h.engine.Load(context.Background(), "sg-1", "file:///x.mp3", 0))

	for range 2 {
		resp := h.call(t, "p", "play", nil)
		require.True(t, resp.OK, resp.Error)
	}
	snap, err := h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Playing)
}

func TestIPCVolumeClamps(t *testing.T) {
	h := newIPCHarness(t)

	resp := h.call(t, "v1", "setVolume", map[string]float64{"value": 2.0})
	require.True(t, resp.OK, resp.Error)
	snap, err := h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.0, snap.Volume)

	resp = h.call(t, "v2", "setVolume", map[string]float64{"value": -0.4})
	require.True(t, resp.OK, resp.Error)
	snap, err = h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, snap.Volume)
}

func TestIPCVolumeDelta(t *testing.T) {
	h := newIPCHarness(t)
	require.NoError(t, h.engine.SetVolume(context.Background(), 0.5))

	resp := h.call(t, "d", "volumeDelta", map[string]float64{"value": 0.2})
	require.True(t, resp.OK, resp.Error)
	snap, err := h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 0.7, snap.Volume, 0.001)
}

func TestIPCUnknownActionFails(t *testing.T) {
	h := newIPCHarness(t)
	resp := h.call(t, "u", "teleport", nil)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown action")
	// Channel survives the bad request.
	resp = h.call(t, "u2", "status", nil)
	require.True(t, resp.OK)
}

func TestIPCToggleMute(t *testing.T) {
	h := newIPCHarness(t)
	resp := h.call(t, "m", "toggleMute", nil)
	require.True(t, resp.OK, resp.Error)
	snap, err := h.engine.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Muted)
}

func TestIPCClearSessionGoesIdle(t *testing.T) {
	h := newIPCHarness(t)
	resp := h.call(t, "c", "clearSession", nil)
	require.True(t, resp.OK, resp.Error)

	st := h.ctrl.Status(context.Background())
	require.Equal(t, ModeIdle, st.Mode)
}
