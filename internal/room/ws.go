// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon connects from localhost and from LAN players alike.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /ws/room connections. The first frame must be a join;
// everything after flows through the room actor.
func Handler(hub *Hub) http.HandlerFunc {
	logger := log.WithComponent("room.ws")
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		go serveConn(hub, conn)
	}
}

func serveConn(hub *Hub, conn *websocket.Conn) {
	logger := log.WithComponent("room.ws")
	defer func() { _ = conn.Close() }()

	// Join handshake.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return
	}
	if env.Type != KindJoin {
		writeError(conn, "first message must be join", "")
		return
	}
	var join JoinPayload
	if err := json.Unmarshal(env.Data, &join); err != nil {
		writeError(conn, "malformed join payload", "")
		return
	}

	r, err := hub.GetOrCreate(context.Background(), join.RoomID, join.RoomName, join.PlaylistKey)
	if err != nil {
		code := ""
		if errors.Is(err, ErrStaleSession) {
			code = ErrCodeStaleRoomSession
		}
		writeError(conn, err.Error(), code)
		return
	}

	dev := newDevice(join.DeviceID, join.DeviceName, model.DeviceRole(join.Role), model.DeviceMode(join.Mode))
	reply := make(chan JoinAckPayload, 1)
	r.joinCh <- joinRequest{dev: dev, reply: reply}
	ack := <-reply

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(NewEnvelope(KindJoinAck, ack)); err != nil {
		r.leaveCh <- dev
		return
	}

	done := make(chan struct{})
	go writePump(conn, dev, done)

	// Read pump; exit removes the device.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if env.Type == KindJoin {
			// Already joined; ignore rather than rebind.
			continue
		}
		select {
		case r.inbox <- inbound{dev: dev, env: env}:
		case <-dev.gone:
			logger.Debug().Str(log.FieldDeviceID, dev.id).Msg("device dropped by room")
			close(done)
			return
		}
	}
	select {
	case r.leaveCh <- dev:
	case <-dev.gone:
	}
	close(done)
}

func writePump(conn *websocket.Conn, dev *device, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-dev.gone:
			_ = conn.Close()
			return
		case env := <-dev.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func writeError(conn *websocket.Conn, msg, code string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(NewEnvelope(KindError, ErrorPayload{Message: msg, Code: code}))
}
