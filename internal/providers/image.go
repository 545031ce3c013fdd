// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ImageClient talks to a txt2img-style endpoint that returns base64 images.
type ImageClient struct {
	baseURL string
	client  *http.Client
}

func NewImageClient(baseURL string, timeout time.Duration) *ImageClient {
	return &ImageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Steps  int    `json:"steps"`
}

type imageResponse struct {
	Images []string `json:"images"`
	Format string   `json:"format,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, string, error) {
	type result struct {
		data   []byte
		format string
	}
	operation := func() (result, error) {
		data, format, err := c.generateOnce(ctx, prompt)
		if err != nil && !IsTransient(err) {
			return result{}, backoff.Permanent(err)
		}
		return result{data, format}, err
	}
	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return nil, "", err
	}
	return res.data, res.format, nil
}

func (c *ImageClient) generateOnce(ctx context.Context, prompt string) ([]byte, string, error) {
	payload, err := json.Marshal(imageRequest{Prompt: prompt, Width: 512, Height: 512, Steps: 20})
	if err != nil {
		return nil, "", fmt.Errorf("image: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/images/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("image: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", classifyHTTPError("image: generate", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", classifyHTTPError("image: read body", err)
	}
	if transientStatus(resp.StatusCode) {
		return nil, "", fmt.Errorf("image: %w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "", fmt.Errorf("image: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, "", fmt.Errorf("image: provider error: %s", parsed.Error)
	}
	if len(parsed.Images) == 0 {
		return nil, "", fmt.Errorf("image: empty result")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.Images[0])
	if err != nil {
		return nil, "", fmt.Errorf("image: decode base64: %w", err)
	}
	format := parsed.Format
	if format == "" {
		format = "png"
	}
	return data, format, nil
}
