// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/daemon"
)

// Run dispatches one CLI invocation and returns the process exit code.
func Run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return 0
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}
	paths := daemon.DefaultRuntimePaths(cfg.Daemon)

	switch args[0] {
	case "daemon":
		return runDaemonCmd(cfg, paths, args[1:])
	case "room":
		return runRoomCmd(cfg, paths, args[1:])
	case "play":
		return runPlay(cfg, paths, args[1:])
	case "stop", "pause":
		return simpleAction(cfg, paths, "pause", nil)
	case "toggle":
		return simpleAction(cfg, paths, "toggle", nil)
	case "skip", "next":
		return simpleAction(cfg, paths, "skip", nil)
	case "volume":
		return runVolume(cfg, paths, args[1:])
	case "mute":
		return simpleAction(cfg, paths, "toggleMute", nil)
	case "seek":
		return runSeek(cfg, paths, args[1:])
	case "status":
		return runStatus(cfg, paths)
	case "queue":
		return printAction(cfg, paths, "queue", nil)
	case "song":
		if len(args) > 1 && args[1] == "pick" && len(args) > 2 {
			return simpleAction(cfg, paths, "selectSong", map[string]string{"songId": args[2]})
		}
		fmt.Fprintln(os.Stderr, "usage: infinitune song pick <song-id>")
		return 2
	case "leave":
		return simpleAction(cfg, paths, "leavePlaylist", nil)
	case "session":
		if len(args) > 1 && args[1] == "clear" {
			return simpleAction(cfg, paths, "clearSession", nil)
		}
		printUsage()
		return 2
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  infinitune play [prompt...]        start a new playlist, or resume playback")
	fmt.Fprintln(os.Stderr, "  infinitune stop|toggle|skip        playback control")
	fmt.Fprintln(os.Stderr, "  infinitune volume <0..100|up|down> set or nudge volume")
	fmt.Fprintln(os.Stderr, "  infinitune mute                    toggle mute")
	fmt.Fprintln(os.Stderr, "  infinitune seek <seconds>          seek in the current song")
	fmt.Fprintln(os.Stderr, "  infinitune song pick <id>          jump to a queued song")
	fmt.Fprintln(os.Stderr, "  infinitune status|queue            inspect the daemon")
	fmt.Fprintln(os.Stderr, "  infinitune leave                   stop consuming the playlist")
	fmt.Fprintln(os.Stderr, "  infinitune session clear           drop the saved session")
	fmt.Fprintln(os.Stderr, "  infinitune room join <key> [--server URL]")
	fmt.Fprintln(os.Stderr, "  infinitune room leave")
	fmt.Fprintln(os.Stderr, "  infinitune daemon run|start|stop|status")
}

// connect dials the daemon, starting it when needed.
func connect(cfg config.Config, paths daemon.RuntimePaths) (*Client, error) {
	return EnsureDaemon(paths.Socket, cfg.Daemon.IPCTimeout)
}

func simpleAction(cfg config.Config, paths daemon.RuntimePaths, action string, payload any) int {
	c, err := connect(cfg, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Call(action, payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printAction(cfg config.Config, paths daemon.RuntimePaths, action string, payload any) int {
	c, err := connect(cfg, paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()
	data, err := c.Call(action, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	var pretty any
	if json.Unmarshal(data, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(data))
	}
	return 0
}

// runPlay with a prompt starts a fresh local playlist; without one it resumes
// whatever is loaded.
func runPlay(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	if len(args) == 0 {
		return simpleAction(cfg, paths, "play", nil)
	}
	prompt := strings.Join(args, " ")
	return printAction(cfg, paths, "startLocal", map[string]string{
		"prompt":    prompt,
		"serverUrl": cfg.Daemon.ServerURL,
	})
}

func runVolume(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: infinitune volume <0..100|+n|-n|up|down> [--step N]")
		return 2
	}
	arg := args[0]

	// Percent on the CLI, unit range on the wire.
	switch arg {
	case "up", "down":
		fs := flag.NewFlagSet("volume "+arg, flag.ContinueOnError)
		step := fs.Float64("step", 5, "volume step in percent")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		delta := *step / 100
		if arg == "down" {
			delta = -delta
		}
		return simpleAction(cfg, paths, "volumeDelta", map[string]float64{"value": delta})
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		delta, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad volume delta %q\n", arg)
			return 2
		}
		return simpleAction(cfg, paths, "volumeDelta", map[string]float64{"value": delta / 100})
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v < 0 || v > 100 {
		fmt.Fprintf(os.Stderr, "bad volume %q, expected 0..100\n", arg)
		return 2
	}
	return simpleAction(cfg, paths, "setVolume", map[string]float64{"value": v / 100})
}

func runSeek(cfg config.Config, paths daemon.RuntimePaths, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: infinitune seek <seconds>")
		return 2
	}
	pos, err := strconv.ParseFloat(args[0], 64)
	if err != nil || pos < 0 {
		fmt.Fprintf(os.Stderr, "bad position %q\n", args[0])
		return 2
	}
	return simpleAction(cfg, paths, "seek", map[string]float64{"value": pos})
}

func runStatus(cfg config.Config, paths daemon.RuntimePaths) int {
	c, err := Dial(paths.Socket, cfg.Daemon.IPCTimeout)
	if err != nil {
		fmt.Println("daemon: not running")
		return 0
	}
	defer func() { _ = c.Close() }()
	st, err := c.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	printStatus(st)
	return 0
}

func printStatus(st daemon.Status) {
	fmt.Printf("mode:      %s\n", st.Mode)
	if st.Mode == daemon.ModeRoom {
		fmt.Printf("connected: %v\n", st.Connected)
		if st.RoomID != "" {
			fmt.Printf("room:      %s\n", st.RoomID)
		}
	}
	if st.PlaylistID != "" {
		fmt.Printf("playlist:  %s\n", st.PlaylistID)
	}
	if st.Current != nil {
		state := "paused"
		if st.Engine.Playing {
			state = "playing"
		}
		fmt.Printf("%s:   %s by %s (%.0f/%.0fs)\n", state,
			st.Current.Title, st.Current.Artist, st.Engine.Position, st.Engine.Duration)
	}
	fmt.Printf("volume:    %.0f%%", st.Engine.Volume*100)
	if st.Engine.Muted {
		fmt.Printf(" (muted)")
	}
	fmt.Println()
}
