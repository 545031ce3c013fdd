// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cli implements the infinitune command line: a thin client over the
// daemon's IPC socket, with daemon autostart.
package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/daemon"
	"github.com/google/uuid"
)

// Client is one connection to the daemon control socket.
type Client struct {
	conn    net.Conn
	rd      *bufio.Reader
	timeout time.Duration
}

// Dial connects to the daemon socket.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, rd: bufio.NewReader(conn), timeout: timeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Call sends one request and waits for its response.
func (c *Client) Call(action string, payload any) (json.RawMessage, error) {
	req := daemon.IPCRequest{ID: uuid.New().String(), Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req.Payload = data
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("cli: send %s: %w", action, err)
	}
	raw, err := c.rd.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("cli: read %s reply: %w", action, err)
	}
	var resp daemon.IPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("cli: malformed reply: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("cli: reply id mismatch")
	}
	if !resp.OK {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Data, nil
}

// Status fetches the parsed daemon status.
func (c *Client) Status() (daemon.Status, error) {
	data, err := c.Call("status", nil)
	if err != nil {
		return daemon.Status{}, err
	}
	var st daemon.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return daemon.Status{}, err
	}
	return st, nil
}
