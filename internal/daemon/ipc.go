// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/rs/zerolog"
)

// IPCRequest is one newline-delimited JSON command on the control socket.
type IPCRequest struct {
	ID      string          `json:"id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IPCResponse answers with the request id echoed back.
type IPCResponse struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// IPC action payloads.
type joinRoomArgs struct {
	ServerURL   string `json:"serverUrl,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	PlaylistKey string `json:"playlistKey,omitempty"`
}

type startLocalArgs struct {
	ServerURL  string `json:"serverUrl,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	PlaylistID string `json:"playlistId,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

type configureArgs struct {
	ServerURL  string `json:"serverUrl,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type valueArgs struct {
	Value float64 `json:"value"`
}

type songArgs struct {
	SongID string `json:"songId"`
}

// IPCServer serves the daemon control socket. Mutating actions are serialized
// through the controller; each request gets a bounded execution window.
type IPCServer struct {
	ctrl    *Controller
	timeout time.Duration
	logger  zerolog.Logger

	mu sync.Mutex // one mutating action at a time

	ln net.Listener
	wg sync.WaitGroup
}

func NewIPCServer(ctrl *Controller, timeout time.Duration) *IPCServer {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &IPCServer{
		ctrl:    ctrl,
		timeout: timeout,
		logger:  log.WithComponent("daemon.ipc"),
	}
}

// Listen binds the unix socket after clearing any stale predecessor.
func (s *IPCServer) Listen(socketPath string) error {
	if err := CleanupStaleSocket(socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until ctx ends or the listener closes.
func (s *IPCServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting; in-flight requests finish.
func (s *IPCServer) Close() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

func (s *IPCServer) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req IPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(IPCResponse{OK: false, Error: "malformed request"})
			continue
		}
		resp := s.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *IPCServer) dispatch(parent context.Context, req IPCRequest) IPCResponse {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	data, err := s.handle(ctx, req)
	metrics.ObserveIPCRequest(req.Action, err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("action", req.Action).
			Msg("ipc action failed")
		return IPCResponse{ID: req.ID, OK: false, Error: err.Error()}
	}
	return IPCResponse{ID: req.ID, OK: true, Data: data}
}

func (s *IPCServer) handle(ctx context.Context, req IPCRequest) (json.RawMessage, error) {
	switch req.Action {
	// Read-only actions skip the action lock.
	case "status":
		return marshal(s.ctrl.Status(ctx))
	case "queue":
		return marshal(map[string]any{"songs": s.ctrl.Queue()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Action {
	case "shutdown":
		s.ctrl.Shutdown()
		return marshal(map[string]string{"status": "shutting down"})
	case "joinRoom":
		var args joinRoomArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		if err := s.ctrl.JoinRoom(args.ServerURL, args.RoomID, args.PlaylistKey); err != nil {
			return nil, err
		}
		return marshal(s.ctrl.Status(ctx))
	case "startLocal":
		var args startLocalArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		mode := model.ModeEndless
		if args.Mode != "" {
			mode = model.PlaylistMode(args.Mode)
		}
		if err := s.ctrl.StartLocal(ctx, args.ServerURL, args.Prompt, args.PlaylistID, mode); err != nil {
			return nil, err
		}
		return marshal(s.ctrl.Status(ctx))
	case "leaveRoom":
		s.ctrl.LeaveRoom()
		return marshal(map[string]string{"status": "left"})
	case "leavePlaylist":
		s.ctrl.LeavePlaylist()
		return marshal(map[string]string{"status": "left"})
	case "clearSession":
		if err := s.ctrl.ClearSession(); err != nil {
			return nil, err
		}
		return marshal(map[string]string{"status": "cleared"})
	case "configure":
		var args configureArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		s.ctrl.Configure(args.ServerURL, args.DeviceName)
		return marshal(map[string]string{"status": "ok"})
	case "play":
		return okOr(s.ctrl.Play(ctx))
	case "pause":
		return okOr(s.ctrl.Pause(ctx))
	case "toggle":
		return okOr(s.ctrl.Toggle(ctx))
	case "skip":
		return okOr(s.ctrl.Skip(ctx))
	case "setVolume":
		var args valueArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		return okOr(s.ctrl.SetVolume(ctx, args.Value))
	case "volumeDelta":
		var args valueArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		return okOr(s.ctrl.VolumeDelta(ctx, args.Value))
	case "toggleMute":
		return okOr(s.ctrl.ToggleMute(ctx))
	case "seek":
		var args valueArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		return okOr(s.ctrl.Seek(ctx, args.Value))
	case "selectSong":
		var args songArgs
		if err := decodeArgs(req.Payload, &args); err != nil {
			return nil, err
		}
		if args.SongID == "" {
			return nil, fmt.Errorf("daemon: songId is required")
		}
		return okOr(s.ctrl.SelectSong(ctx, args.SongID))
	default:
		return nil, fmt.Errorf("daemon: unknown action %q", req.Action)
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("daemon: malformed payload: %w", err)
	}
	return nil
}

func marshal(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func okOr(err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return marshal(map[string]string{"status": "ok"})
}
