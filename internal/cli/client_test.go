// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/daemon"
	"github.com/stretchr/testify/require"
)

// startTestDaemon brings up a real IPC server over a mock engine and returns
// its socket path.
func startTestDaemon(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	engine := daemon.NewMockEngine()
	ctrl := daemon.NewController(config.Defaults().Daemon, engine, filepath.Join(dir, "session.json"), nil)
	require.NoError(t, ctrl.Start(context.Background()))

	srv := daemon.NewIPCServer(ctrl, 2*time.Second)
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
		ctrl.Stop()
	})
	return sock
}

func TestClientStatusRoundTrip(t *testing.T) {
	sock := startTestDaemon(t)

	c, err := Dial(sock, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	st, err := c.Status()
	require.NoError(t, err)
	require.Equal(t, daemon.ModeIdle, st.Mode)
}

func TestClientSurfacesDaemonErrors(t *testing.T) {
	sock := startTestDaemon(t)

	c, err := Dial(sock, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Call("definitelyNotAnAction", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown action")

	// The connection stays usable after an error reply.
	_, err = c.Call("status", nil)
	require.NoError(t, err)
}

func TestClientSerialCallsOnOneConnection(t *testing.T) {
	sock := startTestDaemon(t)

	c, err := Dial(sock, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, errFrom(c.Call("play", nil)))
	require.NoError(t, errFrom(c.Call("setVolume", map[string]float64{"value": 0.5})))
	st, err := c.Status()
	require.NoError(t, err)
	require.True(t, st.Engine.Playing)
	require.InDelta(t, 0.5, st.Engine.Volume, 1e-9)
}

func TestDialFailsWithoutDaemon(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "nope.sock"), 200*time.Millisecond)
	require.Error(t, err)
}

func TestEnsureDaemonReusesRunningSocket(t *testing.T) {
	sock := startTestDaemon(t)

	c, err := EnsureDaemon(sock, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	st, err := c.Status()
	require.NoError(t, err)
	require.Equal(t, daemon.ModeIdle, st.Mode)
}

func errFrom(_ any, err error) error { return err }
