// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/stretchr/testify/require"
)

func TestCleanupStaleSocketRemovesDeadSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "dead.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	// Keep the inode around after close, like a crashed daemon would.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	_, err = os.Stat(sock)
	require.NoError(t, err)

	require.NoError(t, CleanupStaleSocket(sock))
	_, err = os.Stat(sock)
	require.True(t, os.IsNotExist(err))
}

func TestCleanupStaleSocketMissingIsFine(t *testing.T) {
	require.NoError(t, CleanupStaleSocket(filepath.Join(t.TempDir(), "never.sock")))
}

func TestCleanupStaleSocketRefusesLiveDaemon(t *testing.T) {
	dir := t.TempDir()
	engine := NewMockEngine()
	ctrl := NewController(config.Defaults().Daemon, engine, filepath.Join(dir, "session.json"), nil)
	srv := NewIPCServer(ctrl, time.Second)
	sock := filepath.Join(dir, "live.sock")
	require.NoError(t, srv.Listen(sock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})

	err := CleanupStaleSocket(sock)
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestWritePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, WritePIDFile(pidPath))
	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Our own pid is alive, so a second daemon must refuse to start.
	err = WritePIDFile(pidPath)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	RemovePIDFile(pidPath)
	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}

func TestWritePIDFileReplacesDeadPid(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "d.pid")
	// Way over pid_max; guaranteed dead.
	require.NoError(t, os.WriteFile(pidPath, []byte("99999999"), 0o644))
	require.NoError(t, WritePIDFile(pidPath))
	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, ModeIdle, s.Mode)

	want := Session{
		Mode:        ModeRoom,
		RoomID:      "r-1",
		PlaylistKey: "kitchen",
		ServerURL:   "http://localhost:8495",
	}
	require.NoError(t, SaveSession(path, want))
	got, err := LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, ClearSession(path))
	got, err = LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, ModeIdle, got.Mode)
}

func TestLoadSessionToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s, err := LoadSession(path)
	require.NoError(t, err)
	require.Equal(t, ModeIdle, s.Mode)
}
