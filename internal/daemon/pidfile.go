// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
)

// ErrAlreadyRunning is returned when a live daemon owns the socket.
var ErrAlreadyRunning = errors.New("daemon: already running")

// CleanupStaleSocket prepares socketPath for a fresh bind. A socket that
// answers a status probe belongs to a live daemon and is left alone; a dead
// one is removed.
func CleanupStaleSocket(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		// Nobody listening; the previous daemon died without cleanup.
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("daemon: remove stale socket: %w", err)
		}
		return nil
	}
	defer func() { _ = conn.Close() }()

	// Connected. Confirm it is a live daemon, not a wedged socket.
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	req, _ := json.Marshal(IPCRequest{ID: "probe", Action: "status"})
	if _, err := conn.Write(append(req, '\n')); err != nil {
		_ = os.Remove(socketPath)
		return nil
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		_ = os.Remove(socketPath)
		return nil
	}
	return fmt.Errorf("%w: socket %s is in use", ErrAlreadyRunning, socketPath)
}

// WritePIDFile records this process. A live pid in an existing file aborts
// startup; a dead one is replaced.
func WritePIDFile(pidPath string) error {
	if data, err := os.ReadFile(pidPath); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
		}
	}
	return renameio.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile clears the pid file on shutdown; missing is fine.
func RemovePIDFile(pidPath string) {
	_ = os.Remove(pidPath)
}

// processAlive reports whether the pid exists and is signalable.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
