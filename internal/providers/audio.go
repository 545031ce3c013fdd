// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package providers

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

// AudioClient talks to the ACE-style rendering service. Submission and
// polling are deliberately not retried here; the audio queue owns pacing.
type AudioClient struct {
	baseURL string
	client  *http.Client
}

func NewAudioClient(baseURL string, timeout time.Duration) *AudioClient {
	return &AudioClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error,omitempty"`
}

func (c *AudioClient) Submit(ctx context.Context, sub AudioSubmission) (string, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("audio: marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/audio/tasks", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("audio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyHTTPError("audio: submit", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classifyHTTPError("audio: read body", err)
	}
	if transientStatus(resp.StatusCode) {
		return "", fmt.Errorf("audio: %w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("audio: submit status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("audio: decode submit response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("audio: provider error: %s", parsed.Error)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("audio: submit returned no task id")
	}
	return parsed.TaskID, nil
}

func (c *AudioClient) Poll(ctx context.Context, taskID string) (model.AudioPoll, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/audio/tasks/"+taskID, nil)
	if err != nil {
		return model.AudioPoll{}, fmt.Errorf("audio: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return model.AudioPoll{}, classifyHTTPError("audio: poll", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.AudioPoll{}, classifyHTTPError("audio: read body", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.AudioPoll{TaskID: taskID, Status: model.AudioNotFound}, nil
	}
	if transientStatus(resp.StatusCode) {
		return model.AudioPoll{}, fmt.Errorf("audio: %w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return model.AudioPoll{}, fmt.Errorf("audio: poll status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var poll model.AudioPoll
	if err := json.Unmarshal(raw, &poll); err != nil {
		return model.AudioPoll{}, fmt.Errorf("audio: decode poll response: %w", err)
	}
	poll.TaskID = taskID
	return poll, nil
}

type batchPollRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type batchPollResponse struct {
	Tasks map[string]model.AudioPoll `json:"tasks"`
}

func (c *AudioClient) BatchPoll(ctx context.Context, taskIDs []string) (map[string]model.AudioPoll, error) {
	if len(taskIDs) == 0 {
		return map[string]model.AudioPoll{}, nil
	}
	payload, err := json.Marshal(batchPollRequest{TaskIDs: taskIDs})
	if err != nil {
		return nil, fmt.Errorf("audio: marshal batch poll: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/audio/tasks/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("audio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError("audio: batch poll", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, classifyHTTPError("audio: read body", err)
	}
	if transientStatus(resp.StatusCode) {
		return nil, fmt.Errorf("audio: %w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio: batch poll status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed batchPollResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("audio: decode batch poll: %w", err)
	}
	out := make(map[string]model.AudioPoll, len(taskIDs))
	for _, id := range taskIDs {
		poll, ok := parsed.Tasks[id]
		if !ok {
			// A task missing from the reply is treated as unknown.
			poll = model.AudioPoll{Status: model.AudioNotFound}
		}
		poll.TaskID = id
		out[id] = poll
	}
	return out, nil
}

var (
	_ LLM   = (*LLMClient)(nil)
	_ Image = (*ImageClient)(nil)
	_ Audio = (*AudioClient)(nil)
)
