// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/bus"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
)

// eventSink publishes store transitions on the bus. Publication is
// best-effort with a short deadline; the row update has already committed.
type eventSink struct {
	bus bus.Bus
}

func (e *eventSink) publish(topic string, msg bus.Message) {
	if e.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.bus.Publish(ctx, topic, msg); err != nil {
		logger := log.WithComponent("store")
		logger.Warn().
			Err(err).
			Str("topic", topic).
			Msg("event publish failed")
	}
}

func (e *eventSink) songCreated(s *model.Song) {
	e.publish(model.TopicSongCreated, model.SongCreatedEvent{
		SongID:      s.ID,
		PlaylistID:  s.PlaylistID,
		OrderIndex:  s.OrderIndex,
		PromptEpoch: s.PromptEpoch,
		IsInterrupt: s.IsInterrupt,
	})
}

func (e *eventSink) songStatusChanged(s *model.Song, from, to model.SongStatus) {
	e.publish(model.TopicSongStatusChanged, model.SongStatusChangedEvent{
		SongID:     s.ID,
		PlaylistID: s.PlaylistID,
		From:       from,
		To:         to,
	})
}

func (e *eventSink) playlistStatusChanged(id string, from, to model.PlaylistStatus) {
	e.publish(model.TopicPlaylistStatusChanged, model.PlaylistStatusChangedEvent{
		PlaylistID: id,
		From:       from,
		To:         to,
	})
}
