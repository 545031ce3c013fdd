// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/daemon"
)

func runRoomCmd(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: infinitune room join <key> [--server URL] | room leave")
		return 2
	}
	switch args[0] {
	case "join":
		return runRoomJoin(cfg, paths, args[1:])
	case "leave":
		return simpleAction(cfg, paths, "leaveRoom", nil)
	default:
		fmt.Fprintf(os.Stderr, "Unknown room command: %s\n", args[0])
		return 2
	}
}

// runRoomJoin points the daemon at a room and waits for the websocket to come
// up before asking for playback.
func runRoomJoin(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	// The key may come before or after the flags.
	var key string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		key, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("room join", flag.ContinueOnError)
	serverURL := fs.String("server", cfg.Daemon.ServerURL, "generation server base URL")
	roomID := fs.String("room", "", "join an existing room by id instead of playlist key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if key == "" {
		key = fs.Arg(0)
	}
	if key == "" && *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: infinitune room join <playlist-key> [--server URL] [--room ID]")
		return 2
	}
	if *serverURL == "" {
		fmt.Fprintln(os.Stderr, "no server URL; pass --server or set INFINITUNE_SERVER_URL")
		return 2
	}

	// The join blocks inside the daemon until the handshake settles, so the
	// client needs headroom beyond the normal request timeout.
	c, err := EnsureDaemon(paths.Socket, cfg.Daemon.IPCTimeout+cfg.Daemon.ConnectWait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	// Already on the target room or playlist: leave the connection alone.
	st, err := c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if st.Mode == daemon.ModeRoom && st.Connected &&
		((*roomID != "" && st.RoomID == *roomID) ||
			(*roomID == "" && key != "" && st.PlaylistKey == key)) {
		if _, err := c.Call("play", nil); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("already in room %s (playlist %s)\n", st.RoomID, st.PlaylistID)
		return 0
	}

	payload := map[string]string{
		"serverUrl":   *serverURL,
		"roomId":      *roomID,
		"playlistKey": key,
	}
	if _, err := c.Call("joinRoom", payload); err != nil {
		// One retry covers a daemon that was mid-reconnect on the first call.
		time.Sleep(500 * time.Millisecond)
		if _, err = c.Call("joinRoom", payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	st, err = c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if _, err := c.Call("play", nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("joined room %s (playlist %s)\n", st.RoomID, st.PlaylistID)
	return 0
}
