// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applySettingsFile overlays the hot-reloadable subset of settings from a flat
// KEY=VALUE file. Unknown keys are ignored so the file can be shared with the
// out-of-scope UI configuration.
func applySettingsFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open settings file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "llm_concurrency":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.Generation.LLMConcurrency = n
			}
		case "image_concurrency":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.Generation.ImageConcurrency = n
			}
		case "buffer_target":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.Generation.BufferTarget = n
			}
		case "heartbeat_stale":
			if d, err := time.ParseDuration(value); err == nil && d > 0 {
				cfg.Generation.HeartbeatStale = d
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	return nil
}
