// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Interrupter is the piece of the pipeline supervisor the API needs.
type Interrupter interface {
	Interrupt(ctx context.Context, playlistID, prompt string) (*model.Song, error)
}

// Handlers binds the REST surface to the data service.
type Handlers struct {
	store       store.Store
	interrupter Interrupter
}

func NewHandlers(st store.Store, in Interrupter) *Handlers {
	return &Handlers{store: st, interrupter: in}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStoreError maps data-service failures onto HTTP codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrPlaylistClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "playlist closed"})
	case errors.Is(err, store.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

type createPlaylistRequest struct {
	Key    string `json:"key,omitempty"`
	Name   string `json:"name,omitempty"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

func (h *Handlers) createPlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	mode := model.ModeEndless
	switch model.PlaylistMode(req.Mode) {
	case "", model.ModeEndless:
	case model.ModeOneshot:
		mode = model.ModeOneshot
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown mode " + req.Mode})
		return
	}
	key := req.Key
	if key == "" {
		key = uuid.New().String()
	}

	pl := &model.Playlist{
		Key:    key,
		Name:   req.Name,
		Mode:   mode,
		Prompt: req.Prompt,
	}
	if err := h.store.CreatePlaylist(r.Context(), pl); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pl)
}

func (h *Handlers) getPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := h.store.GetPlaylist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (h *Handlers) listPlaylists(w http.ResponseWriter, r *http.Request) {
	pls, err := h.store.ListActivePlaylists(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": pls})
}

func (h *Handlers) listSongs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetPlaylist(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	songs, err := h.store.ListSongsByPlaylist(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].OrderIndex < songs[j].OrderIndex })
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (h *Handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Heartbeat(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type steerRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handlers) steerPlaylist(w http.ResponseWriter, r *http.Request) {
	var req steerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	epoch, err := h.store.SteerPlaylist(r.Context(), chi.URLParam(r, "id"), req.Prompt)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promptEpoch": epoch})
}

type interruptRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handlers) interrupt(w http.ResponseWriter, r *http.Request) {
	var req interruptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	sg, err := h.interrupter.Interrupt(r.Context(), chi.URLParam(r, "id"), req.Prompt)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sg)
}

func (h *Handlers) deletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePlaylist(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) getSong(w http.ResponseWriter, r *http.Request) {
	sg, err := h.store.GetSong(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

type songStatusRequest struct {
	Status string `json:"status"`
}

// updateSongStatus serves local-mode consumers reporting played songs. Only
// edges the state machine allows go through.
func (h *Handlers) updateSongStatus(w http.ResponseWriter, r *http.Request) {
	var req songStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := model.SongStatus(req.Status)
	switch status {
	case model.SongPlayed, model.SongError:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported status " + req.Status})
		return
	}
	if err := h.store.UpdateSongStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type ratingRequest struct {
	Rating string `json:"rating"`
}

func (h *Handlers) rateSong(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rating := model.UserRating(req.Rating)
	switch rating {
	case model.RatingUp, model.RatingDown:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating must be up or down"})
		return
	}
	if err := h.store.UpdateUserRating(r.Context(), chi.URLParam(r, "id"), rating); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rating": req.Rating})
}
