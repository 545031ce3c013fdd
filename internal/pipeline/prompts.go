// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/providers"
)

const metadataSystemPrompt = `You are the songwriter of a generative radio station.
Given a station prompt and context, invent one new song and answer with a single
JSON object. Fields: title, artist, lyrics, caption (a short production
description for the audio model), bpm, keyScale, timeSignature, mood, energy.
Never repeat a song from the recent list.`

var metadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":         map[string]any{"type": "string"},
		"artist":        map[string]any{"type": "string"},
		"lyrics":        map[string]any{"type": "string"},
		"caption":       map[string]any{"type": "string"},
		"bpm":           map[string]any{"type": "integer"},
		"keyScale":      map[string]any{"type": "string"},
		"timeSignature": map[string]any{"type": "string"},
		"mood":          map[string]any{"type": "string"},
		"energy":        map[string]any{"type": "string"},
	},
	"required": []string{"title", "artist", "caption"},
}

// metadataRequest assembles the LLM turn for one song.
func metadataRequest(song *model.Song, playlist *model.Playlist, recent []string, avoidDuplicate string) providers.LLMRequest {
	var b strings.Builder
	if song.IsInterrupt && song.Prompt != "" {
		fmt.Fprintf(&b, "One-off listener request: %s\n", song.Prompt)
		fmt.Fprintf(&b, "Station prompt (for tone only): %s\n", playlist.Prompt)
	} else {
		fmt.Fprintf(&b, "Station prompt: %s\n", playlist.Prompt)
	}
	if playlist.ManagerBrief != "" {
		fmt.Fprintf(&b, "Station manager brief: %s\n", playlist.ManagerBrief)
	}
	if slot, ok := playlist.ManagerPlan.SlotFor(song.OrderIndex); ok {
		fmt.Fprintf(&b, "Slot direction: transition=%s topic=%s theme=%s energy=%s\n",
			slot.Transition, slot.Topic, slot.Theme, slot.Energy)
	}
	if len(recent) > 0 {
		fmt.Fprintf(&b, "Recent songs (do not repeat): %s\n", strings.Join(recent, "; "))
	}
	if avoidDuplicate != "" {
		fmt.Fprintf(&b, "Your previous answer duplicated %q. Produce a clearly different song.\n", avoidDuplicate)
	}
	return providers.LLMRequest{
		System: metadataSystemPrompt,
		User:   b.String(),
		Schema: metadataSchema,
	}
}

const briefSystemPrompt = `You are the station manager of a generative radio
station. From the station prompt, write a short programming brief and a plan
for the next few songs. Answer with a single JSON object:
{brief, plan: {startOrderIndex, windowSize, slots: [{transition, topic, theme, energy}]}}.
Use between 3 and 8 slots.`

type briefResponse struct {
	Brief string             `json:"brief"`
	Plan  *model.ManagerPlan `json:"plan"`
}

func briefRequest(playlist *model.Playlist, nextOrderIndex int) providers.LLMRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Station prompt: %s\n", playlist.Prompt)
	fmt.Fprintf(&b, "Plan should start at order index %d.\n", nextOrderIndex)
	return providers.LLMRequest{System: briefSystemPrompt, User: b.String()}
}

const personaSystemPrompt = `You maintain the listener persona of a radio
station. Given one played song and its rating, answer with one short sentence
describing what this tells us about the listener's taste. Plain text only.`

func personaRequest(song *model.Song) providers.LLMRequest {
	var b strings.Builder
	if song.Metadata != nil {
		fmt.Fprintf(&b, "Song: %s by %s (mood=%s energy=%s)\n",
			song.Metadata.Title, song.Metadata.Artist, song.Metadata.Mood, song.Metadata.Energy)
	}
	if song.UserRating != "" {
		fmt.Fprintf(&b, "Listener rating: %s\n", song.UserRating)
	}
	return providers.LLMRequest{System: personaSystemPrompt, User: b.String()}
}

// isDuplicate checks title/artist case-insensitive equality against the
// recent window entries ("Title by Artist").
func isDuplicate(md *model.Metadata, recent []string) bool {
	candidate := strings.ToLower(strings.TrimSpace(md.Title + " by " + md.Artist))
	for _, r := range recent {
		if strings.ToLower(strings.TrimSpace(r)) == candidate {
			return true
		}
	}
	return false
}
