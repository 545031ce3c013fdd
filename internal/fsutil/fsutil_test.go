// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAndResolve(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	path, err := root.WriteFile("covers/a.png", []byte("png"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)
}

func TestResolveRejectsEscape(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	_, err = root.Resolve("../outside")
	require.NoError(t, err) // Clean("/../outside") stays inside

	// A cleaned path can never leave the root.
	p, err := root.Resolve("../../etc/passwd")
	require.NoError(t, err)
	require.Contains(t, p, root.Base())
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	t.Cleanup(srv.Close)

	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	path, err := root.Download(context.Background(), nil, srv.URL+"/a.mp3", "songs/a.mp3")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("audio-bytes"), data)
}

func TestDownloadNon200Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)

	_, err = root.Download(context.Background(), nil, srv.URL+"/gone.mp3", "songs/gone.mp3")
	require.Error(t, err)
}

func TestRemoveMissingIsFine(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, root.Remove("never-there.mp3"))
}
