// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StatusHTTP is the read-only local status server, intended for bars and
// widgets. GET only; every payload is JSON and never cached.
type StatusHTTP struct {
	ctrl *Controller
}

func NewStatusHTTP(ctrl *Controller) *StatusHTTP {
	return &StatusHTTP{ctrl: ctrl}
}

// Handler returns the status mux.
func (s *StatusHTTP) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.wrap(s.handleRoot))
	mux.HandleFunc("/health", s.wrap(s.handleHealth))
	mux.HandleFunc("/status", s.wrap(s.handleStatus))
	mux.HandleFunc("/queue", s.wrap(s.handleQueue))
	mux.HandleFunc("/waybar", s.wrap(s.handleWaybar))
	return mux
}

func (s *StatusHTTP) wrap(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
			return
		}
		fn(w, r)
	}
}

func (s *StatusHTTP) write(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func (s *StatusHTTP) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		s.write(w, map[string]string{"error": "not found"})
		return
	}
	s.write(w, map[string]any{
		"service":   "infinitune-daemon",
		"endpoints": []string{"/health", "/status", "/queue", "/waybar"},
	})
}

func (s *StatusHTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.write(w, map[string]string{"status": "ok"})
}

func (s *StatusHTTP) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.write(w, s.ctrl.Status(r.Context()))
}

func (s *StatusHTTP) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.write(w, map[string]any{"songs": s.ctrl.Queue()})
}

// waybarPayload follows the waybar custom module contract.
type waybarPayload struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
	Class   string `json:"class"`
}

func (s *StatusHTTP) handleWaybar(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status(r.Context())
	out := waybarPayload{Class: string(st.Mode)}
	switch {
	case st.Current != nil && st.Engine.Playing:
		out.Text = fmt.Sprintf("♪ %s - %s", st.Current.Artist, st.Current.Title)
		out.Tooltip = fmt.Sprintf("%s by %s (%.0f/%.0fs)",
			st.Current.Title, st.Current.Artist, st.Engine.Position, st.Engine.Duration)
		out.Class = "playing"
	case st.Current != nil:
		out.Text = fmt.Sprintf("⏸ %s - %s", st.Current.Artist, st.Current.Title)
		out.Class = "paused"
	case st.Mode == ModeIdle:
		out.Text = ""
		out.Class = "idle"
	default:
		out.Text = "…"
		out.Class = "waiting"
	}
	s.write(w, out)
}
