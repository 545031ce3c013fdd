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

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// LLMClient talks to an OpenAI-compatible chat completion endpoint.
type LLMClient struct {
	baseURL string
	model   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewLLMClient builds a client for baseURL. timeout bounds one completion turn.
func NewLLMClient(baseURL, modelName string, timeout time.Duration) *LLMClient {
	return &LLMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent("provider.llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *LLMClient) Complete(ctx context.Context, req LLMRequest) (string, error) {
	body := chatRequest{Model: c.model}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	if req.Schema != nil {
		body.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": req.Schema,
				"strict": true,
			},
		}
	}

	operation := func() (string, error) {
		text, err := c.completeOnce(ctx, body)
		if err != nil && !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return text, err
	}
	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *LLMClient) completeOnce(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyHTTPError("llm: complete", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", classifyHTTPError("llm: read body", err)
	}
	if transientStatus(resp.StatusCode) {
		return "", fmt.Errorf("llm: %w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *LLMClient) CompleteJSON(ctx context.Context, req LLMRequest, out any) error {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	cleaned := stripFence(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		c.logger.Warn().
			Str("event", "llm.bad_json").
			Str("snippet", truncate([]byte(cleaned), 120)).
			Msg("completion was not valid JSON")
		return fmt.Errorf("llm: decode structured response: %w", err)
	}
	return nil
}

// stripFence removes a surrounding markdown code fence some models emit
// even in structured mode.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
