// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// AudioTaskStatus is the provider-side state of a submitted audio task.
type AudioTaskStatus string

const (
	AudioRunning   AudioTaskStatus = "running"
	AudioSucceeded AudioTaskStatus = "succeeded"
	AudioFailed    AudioTaskStatus = "failed"
	AudioNotFound  AudioTaskStatus = "not_found"
)

// AudioPoll is one poll result for a task.
type AudioPoll struct {
	TaskID    string          `json:"taskId"`
	Status    AudioTaskStatus `json:"status"`
	AudioPath string          `json:"audioPath,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// AudioResult is the resolution of an audio queue item.
type AudioResult struct {
	TaskID    string          `json:"taskId"`
	AudioPath string          `json:"audioPath,omitempty"`
	Status    AudioTaskStatus `json:"status"`
}
