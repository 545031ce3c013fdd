// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil confines storage writes to a configured root and makes
// file placement atomic. A crash mid-save never leaves a partial file at
// the final path.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrOutsideRoot is returned when a resolved path escapes the storage root.
var ErrOutsideRoot = errors.New("fsutil: path escapes storage root")

// Root is a confined directory tree for generated assets.
type Root struct {
	base string
}

// NewRoot creates the directory if needed and returns the confined root.
func NewRoot(base string) (*Root, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("fsutil: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fsutil: create root: %w", err)
	}
	return &Root{base: abs}, nil
}

// Base returns the absolute root path.
func (r *Root) Base() string { return r.base }

// Resolve joins rel onto the root and rejects traversal outside it.
func (r *Root) Resolve(rel string) (string, error) {
	joined := filepath.Join(r.base, filepath.Clean("/"+rel))
	if joined != r.base && !strings.HasPrefix(joined, r.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return joined, nil
}

// WriteFile atomically places data at the relative path, creating parents.
func (r *Root) WriteFile(rel string, data []byte) (string, error) {
	path, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("fsutil: create parent: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("fsutil: write %s: %w", rel, err)
	}
	return path, nil
}

// CopyFile atomically copies src (outside the root) to the relative path.
func (r *Root) CopyFile(rel, src string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("fsutil: read source: %w", err)
	}
	return r.WriteFile(rel, data)
}

// Download fetches url and atomically places the body at the relative path.
func (r *Root) Download(ctx context.Context, client *http.Client, url, rel string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fsutil: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fsutil: fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fsutil: fetch %s: status %d", url, resp.StatusCode)
	}

	path, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("fsutil: create parent: %w", err)
	}
	pending, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return "", fmt.Errorf("fsutil: temp file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := io.Copy(pending, resp.Body); err != nil {
		return "", fmt.Errorf("fsutil: stream body: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("fsutil: finalize: %w", err)
	}
	return path, nil
}

// Remove deletes the file at the relative path; missing files are fine.
func (r *Root) Remove(rel string) error {
	path, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fsutil: remove %s: %w", rel, err)
	}
	return nil
}
