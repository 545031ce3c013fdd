// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLLMCompleteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"title\":\"Night Drive\",\"artist\":\"Vex\"}"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewLLMClient(srv.URL, "test-model", 5*time.Second)
	var out model.Metadata
	err := c.CompleteJSON(context.Background(), LLMRequest{
		System: "you are a songwriter",
		User:   "write one",
		Schema: map[string]any{"type": "object"},
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "Night Drive", out.Title)
	require.Equal(t, "Vex", out.Artist)
}

func TestLLMRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewLLMClient(srv.URL, "", 5*time.Second)
	text, err := c.Complete(context.Background(), LLMRequest{User: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, int32(2), calls.Load())
}

func TestLLMPermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`bad request`))
	}))
	t.Cleanup(srv.Close)

	c := NewLLMClient(srv.URL, "", 5*time.Second)
	_, err := c.Complete(context.Background(), LLMRequest{User: "hi"})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestStripFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripFence(`{"a":1}`))
}

func TestImageGenerate(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generate", r.URL.Path)
		resp := imageResponse{Images: []string{base64.StdEncoding.EncodeToString(raw)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := NewImageClient(srv.URL, 5*time.Second)
	data, format, err := c.Generate(context.Background(), "album cover, neon city")
	require.NoError(t, err)
	require.Equal(t, raw, data)
	require.Equal(t, "png", format)
}

func TestAudioSubmitAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/audio/tasks":
			_, _ = w.Write([]byte(`{"taskId":"t-42"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/audio/tasks/t-42":
			_, _ = w.Write([]byte(`{"status":"succeeded","audioPath":"/out/t-42.mp3"}`))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewAudioClient(srv.URL, 5*time.Second)
	taskID, err := c.Submit(context.Background(), AudioSubmission{Caption: "dark synthwave"})
	require.NoError(t, err)
	require.Equal(t, "t-42", taskID)

	poll, err := c.Poll(context.Background(), "t-42")
	require.NoError(t, err)
	require.Equal(t, model.AudioSucceeded, poll.Status)
	require.Equal(t, "/out/t-42.mp3", poll.AudioPath)

	// Unknown tasks resolve as not_found, not as an error.
	poll, err = c.Poll(context.Background(), "gone")
	require.NoError(t, err)
	require.Equal(t, model.AudioNotFound, poll.Status)
}

func TestAudioBatchPollFillsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/tasks/batch", r.URL.Path)
		_, _ = w.Write([]byte(`{"tasks":{"a":{"status":"running"}}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewAudioClient(srv.URL, 5*time.Second)
	out, err := c.BatchPoll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, model.AudioRunning, out["a"].Status)
	require.Equal(t, model.AudioNotFound, out["b"].Status)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	set := Set{LLM: NewLLMClient("http://localhost", "", time.Second)}
	r.Register("default", set)

	got, err := r.Resolve("default")
	require.NoError(t, err)
	require.NotNil(t, got.LLM)

	_, err = r.Resolve("missing")
	require.Error(t, err)
}
