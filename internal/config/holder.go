// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder holds configuration with atomic reloading capability. It provides
// thread-safe access and supports hot reloading from the settings file or a
// manual trigger.
type Holder struct {
	mu      sync.RWMutex
	current Config
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a configuration holder with the initial config.
func NewHolder(initial Config) *Holder {
	return &Holder{
		current: initial,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// RegisterListener adds a channel that receives every config swap.
// Delivery is best-effort: a full channel is skipped.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// Reload rebuilds the configuration and validates it. If validation fails, the
// old configuration is kept and the error is returned; the swap is atomic.
func (h *Holder) Reload(_ context.Context) error {
	newCfg, err := FromEnv()
	if err != nil {
		h.logger.Error().Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded")
	return nil
}

func (h *Holder) notifyListeners(cfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()
	for _, ch := range h.reloadListeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skipped").
				Msg("reload listener channel full, skipping")
		}
	}
}

// StartWatcher watches the settings file for changes. If no settings file is
// configured this is a no-op (ENV-only configuration).
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.Get().SettingsPath
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("settings watcher disabled (ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch settings file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", path).
		Msg("watching settings file")

	go h.watchLoop(ctx, path)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, path string) {
	defer func() { _ = h.watcher.Close() }()

	// Editors often replace rather than write in place; debounce bursts.
	var debounce *time.Timer
	trigger := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(250*time.Millisecond, func() {
			if err := h.Reload(ctx); err != nil {
				h.logger.Warn().Err(err).
					Str("event", "config.watch_reload_failed").
					Msg("settings reload failed, keeping previous configuration")
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				trigger()
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				// Re-add after replace; the new inode needs a fresh watch.
				_ = h.watcher.Add(path)
				trigger()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).
				Str("event", "config.watch_error").
				Msg("settings watcher error")
		}
	}
}
