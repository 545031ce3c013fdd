// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
)

// EnsureDaemon returns a connected client, starting the daemon first when the
// socket does not answer.
func EnsureDaemon(socketPath string, timeout time.Duration) (*Client, error) {
	if c, err := Dial(socketPath, timeout); err == nil {
		return c, nil
	}
	if err := spawnDaemon(); err != nil {
		return nil, err
	}

	// The daemon needs a moment to bind its socket.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := Dial(socketPath, timeout); err == nil {
			return c, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("cli: daemon did not come up on %s", socketPath)
}

// spawnDaemon re-executes this binary as a detached daemon process.
func spawnDaemon() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cli: resolve executable: %w", err)
	}
	cmd := exec.Command(self, "daemon", "run")
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cli: start daemon: %w", err)
	}
	// Detach; the daemon owns its own lifecycle from here.
	if err := cmd.Process.Release(); err != nil {
		return err
	}
	logger := log.WithComponent("cli")
	logger.Debug().
		Str("binary", self).
		Msg("daemon spawned")
	return nil
}
