// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConcurrency = errors.New("config: concurrency limits must be positive")
	ErrInvalidInterval    = errors.New("config: intervals must be positive")
	ErrInvalidBuffer      = errors.New("config: buffer target must be positive")
)

// Validate rejects configurations that would wedge the pipeline. Endpoint URLs
// may be empty at validation time; the queue rejects work for unset providers.
func Validate(cfg Config) error {
	g := cfg.Generation
	if g.LLMConcurrency <= 0 || g.ImageConcurrency <= 0 {
		return fmt.Errorf("%w: llm=%d image=%d", ErrInvalidConcurrency, g.LLMConcurrency, g.ImageConcurrency)
	}
	if g.AudioPollInterval <= 0 || g.HeartbeatStale <= 0 || g.NotFoundGrace <= 0 {
		return fmt.Errorf("%w: poll=%s stale=%s grace=%s", ErrInvalidInterval,
			g.AudioPollInterval, g.HeartbeatStale, g.NotFoundGrace)
	}
	if g.BufferTarget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBuffer, g.BufferTarget)
	}
	if cfg.Rooms.StartAtBuffer <= 0 || cfg.Rooms.DriftBound <= 0 {
		return fmt.Errorf("%w: startAt=%s drift=%s", ErrInvalidInterval,
			cfg.Rooms.StartAtBuffer, cfg.Rooms.DriftBound)
	}
	return nil
}
