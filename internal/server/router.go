// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package server is the HTTP surface of the generation server: REST control
// plane, room websocket endpoint, audio file delivery and metrics.
package server

import (
	"net/http"
	"os"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/fsutil"
	"github.com/beastyrabbit/infinitune-sub001/internal/room"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Handlers *Handlers
	Hub      *room.Hub
	Storage  *fsutil.Root
}

// NewRouter builds the chi router with the canonical middleware stack.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/ws/room", room.Handler(deps.Hub))

	r.Route("/audio", func(r chi.Router) {
		r.Get("/*", audioFileServer(deps.Storage))
	})

	h := deps.Handlers
	r.Route("/api", func(r chi.Router) {
		r.Use(apiRateLimit(600, time.Minute))

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", h.listPlaylists)
			r.Post("/", h.createPlaylist)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getPlaylist)
				r.Delete("/", h.deletePlaylist)
				r.Get("/songs", h.listSongs)
				r.Post("/heartbeat", h.heartbeat)
				r.Post("/steer", h.steerPlaylist)
				r.Post("/interrupt", h.interrupt)
			})
		})
		r.Route("/songs/{id}", func(r chi.Router) {
			r.Get("/", h.getSong)
			r.Post("/status", h.updateSongStatus)
			r.Post("/rating", h.rateSong)
		})
	})

	return r
}

// audioFileServer serves generated assets. Paths resolve inside the storage
// root only; traversal attempts answer 404.
func audioFileServer(storage *fsutil.Root) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		abs, err := storage.Resolve(rel)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		http.ServeFile(w, r, abs)
	}
}
