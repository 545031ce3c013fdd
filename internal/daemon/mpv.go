// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// MPVEngine drives an mpv subprocess over its JSON IPC socket.
type MPVEngine struct {
	cmd    *exec.Cmd
	conn   net.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan mpvResponse
	songID  string
	volume  float64
	muted   bool
	onEnded func(songID string)
	closed  bool
}

type mpvResponse struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
}

// StartMPV launches mpv in idle mode and connects to its IPC socket.
func StartMPV(ctx context.Context, binary, socketDir string) (*MPVEngine, error) {
	sock := filepath.Join(socketDir, fmt.Sprintf("mpv-%d.sock", os.Getpid()))
	cmd := exec.Command(binary,
		"--no-video",
		"--idle=yes",
		"--no-terminal",
		"--input-ipc-server="+sock,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemon: start mpv: %w", err)
	}

	// The socket appears shortly after mpv boots; retry the dial.
	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		return net.Dial("unix", sock)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(100*time.Millisecond)),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("daemon: connect mpv socket: %w", err)
	}

	e := &MPVEngine{
		cmd:     cmd,
		conn:    conn,
		logger:  log.WithComponent("daemon.mpv"),
		pending: make(map[int64]chan mpvResponse),
		volume:  1,
	}
	go e.readLoop()
	return e, nil
}

func (e *MPVEngine) readLoop() {
	scanner := bufio.NewScanner(e.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var resp mpvResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			e.handleEvent(resp)
			continue
		}
		e.mu.Lock()
		ch, ok := e.pending[resp.RequestID]
		if ok {
			delete(e.pending, resp.RequestID)
		}
		e.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	// Socket gone; fail everything still waiting.
	e.mu.Lock()
	for id, ch := range e.pending {
		delete(e.pending, id)
		close(ch)
	}
	e.mu.Unlock()
}

func (e *MPVEngine) handleEvent(resp mpvResponse) {
	if resp.Event != "end-file" || resp.Reason != "eof" {
		return
	}
	e.mu.Lock()
	songID := e.songID
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil && songID != "" {
		fn(songID)
	}
}

// command issues one mpv command and waits for its reply.
func (e *MPVEngine) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("daemon: mpv engine closed")
	}
	e.nextID++
	id := e.nextID
	ch := make(chan mpvResponse, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{"command": args, "request_id": id})
	e.writeMu.Lock()
	_, err := e.conn.Write(append(payload, '\n'))
	e.writeMu.Unlock()
	if err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, fmt.Errorf("daemon: mpv write: %w", err)
	}

	select {
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("daemon: mpv connection lost")
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("daemon: mpv: %s", resp.Error)
		}
		return resp.Data, nil
	}
}

func (e *MPVEngine) setProperty(ctx context.Context, name string, value any) error {
	_, err := e.command(ctx, "set_property", name, value)
	return err
}

func (e *MPVEngine) getFloat(ctx context.Context, name string) float64 {
	data, err := e.command(ctx, "get_property", name)
	if err != nil {
		return 0
	}
	var v float64
	_ = json.Unmarshal(data, &v)
	return v
}

func (e *MPVEngine) getBool(ctx context.Context, name string) bool {
	data, err := e.command(ctx, "get_property", name)
	if err != nil {
		return false
	}
	var v bool
	_ = json.Unmarshal(data, &v)
	return v
}

func (e *MPVEngine) Load(ctx context.Context, songID, source string, startPos float64) error {
	opts := fmt.Sprintf("start=%f,pause=yes", startPos)
	if _, err := e.command(ctx, "loadfile", source, "replace", opts); err != nil {
		return err
	}
	e.mu.Lock()
	e.songID = songID
	e.mu.Unlock()
	return nil
}

func (e *MPVEngine) Preload(ctx context.Context, source string) error {
	// Append to the prefetch list; mpv caches the open without switching.
	_, err := e.command(ctx, "loadfile", source, "append")
	return err
}

func (e *MPVEngine) Play(ctx context.Context) error {
	return e.setProperty(ctx, "pause", false)
}

func (e *MPVEngine) Pause(ctx context.Context) error {
	return e.setProperty(ctx, "pause", true)
}

func (e *MPVEngine) Seek(ctx context.Context, pos float64) error {
	_, err := e.command(ctx, "seek", pos, "absolute")
	return err
}

func (e *MPVEngine) SetVolume(ctx context.Context, v float64) error {
	if err := e.setProperty(ctx, "volume", v*100); err != nil {
		return err
	}
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

func (e *MPVEngine) SetMuted(ctx context.Context, muted bool) error {
	if err := e.setProperty(ctx, "mute", muted); err != nil {
		return err
	}
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	return nil
}

func (e *MPVEngine) Snapshot(ctx context.Context) (EngineSnapshot, error) {
	e.mu.Lock()
	snap := EngineSnapshot{
		SongID: e.songID,
		Volume: e.volume,
		Muted:  e.muted,
	}
	e.mu.Unlock()
	snap.Position = e.getFloat(ctx, "time-pos")
	snap.Duration = e.getFloat(ctx, "duration")
	snap.Playing = !e.getBool(ctx, "pause")
	return snap, nil
}

func (e *MPVEngine) OnSongEnded(fn func(songID string)) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

func (e *MPVEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_, _ = e.command(ctx, "quit")
	cancel()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	_ = e.conn.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Wait()
	}
	return nil
}

var _ Engine = (*MPVEngine)(nil)
