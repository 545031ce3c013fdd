// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package providers holds the clients for the external generation services.
// Callers resolve a capability from the registry and hold the capability,
// never a concrete provider type.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
)

// LLMRequest is a single completion turn. Schema, when set, requests a
// structured JSON object matching it.
type LLMRequest struct {
	System string
	User   string
	Schema map[string]any
}

// LLM produces text or schema-validated objects from prompts.
type LLM interface {
	// Complete returns the raw text of one completion turn.
	Complete(ctx context.Context, req LLMRequest) (string, error)
	// CompleteJSON unmarshals a structured completion into out.
	CompleteJSON(ctx context.Context, req LLMRequest, out any) error
}

// Image renders cover art from a prompt.
type Image interface {
	// Generate returns the encoded image bytes and their format ("png", "jpeg").
	Generate(ctx context.Context, prompt string) ([]byte, string, error)
}

// AudioSubmission is the provider payload for one song render.
type AudioSubmission struct {
	Caption       string  `json:"caption"`
	Lyrics        string  `json:"lyrics,omitempty"`
	BPM           int     `json:"bpm,omitempty"`
	KeyScale      string  `json:"keyScale,omitempty"`
	TimeSignature string  `json:"timeSignature,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
}

// Audio is the submit-then-poll rendering service.
type Audio interface {
	Submit(ctx context.Context, sub AudioSubmission) (taskID string, err error)
	Poll(ctx context.Context, taskID string) (model.AudioPoll, error)
	BatchPoll(ctx context.Context, taskIDs []string) (map[string]model.AudioPoll, error)
}

// Set bundles the three capabilities one pipeline instance uses.
type Set struct {
	LLM   LLM
	Image Image
	Audio Audio
}

// Registry resolves provider sets by name.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]Set
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[string]Set)}
}

// Register stores a named provider set, replacing any previous entry.
func (r *Registry) Register(name string, set Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[name] = set
}

// Resolve returns the named provider set.
func (r *Registry) Resolve(name string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[name]
	if !ok {
		return Set{}, fmt.Errorf("providers: unknown provider %q", name)
	}
	return set, nil
}
