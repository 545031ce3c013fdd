// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
)

// APIClient talks to the generation server's REST surface.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("daemon: server %s %s: %s", method, path, apiErr.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// CreatePlaylist starts a new generation session on the server.
func (c *APIClient) CreatePlaylist(ctx context.Context, key, name, prompt string, mode model.PlaylistMode) (*model.Playlist, error) {
	var pl model.Playlist
	err := c.do(ctx, http.MethodPost, "/api/playlists", map[string]string{
		"key":    key,
		"name":   name,
		"prompt": prompt,
		"mode":   string(mode),
	}, &pl)
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

func (c *APIClient) GetPlaylist(ctx context.Context, id string) (*model.Playlist, error) {
	var pl model.Playlist
	if err := c.do(ctx, http.MethodGet, "/api/playlists/"+id, nil, &pl); err != nil {
		return nil, err
	}
	return &pl, nil
}

// ListSongs returns the playlist's songs ordered by index.
func (c *APIClient) ListSongs(ctx context.Context, playlistID string) ([]*model.Song, error) {
	var out struct {
		Songs []*model.Song `json:"songs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/playlists/"+playlistID+"/songs", nil, &out); err != nil {
		return nil, err
	}
	return out.Songs, nil
}

func (c *APIClient) Heartbeat(ctx context.Context, playlistID string) error {
	return c.do(ctx, http.MethodPost, "/api/playlists/"+playlistID+"/heartbeat", nil, nil)
}

func (c *APIClient) Steer(ctx context.Context, playlistID, prompt string) error {
	return c.do(ctx, http.MethodPost, "/api/playlists/"+playlistID+"/steer",
		map[string]string{"prompt": prompt}, nil)
}

// MarkPlayed reports a consumed song in local mode.
func (c *APIClient) MarkPlayed(ctx context.Context, songID string) error {
	return c.do(ctx, http.MethodPost, "/api/songs/"+songID+"/status",
		map[string]string{"status": "played"}, nil)
}
