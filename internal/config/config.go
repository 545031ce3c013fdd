// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads runtime configuration env-first, with an optional
// flat settings file whose changes are applied without a restart.
package config

import (
	"time"
)

// Generation configures the server-side pipeline.
type Generation struct {
	// Provider endpoints.
	LLMBaseURL   string
	LLMModel     string
	ImageBaseURL string
	AudioBaseURL string

	// Per-provider concurrency limits, reloadable at runtime.
	LLMConcurrency   int
	ImageConcurrency int

	// Pipeline timing.
	LLMTimeout         time.Duration // one LLM turn
	AudioSubmitTimeout time.Duration
	AudioPollInterval  time.Duration
	NotFoundGrace      time.Duration // grace before an unknown task resolves not_found

	// Supervisor policy.
	BufferTarget       int
	MaxRetries         int
	DedupWindow        int
	HeartbeatStale     time.Duration
	StaleSongThreshold time.Duration
	PersonaInterval    time.Duration
}

// Rooms configures the room runtime.
type Rooms struct {
	StartAtBuffer time.Duration // lead time given to players before startAt
	DriftBound    time.Duration // max tolerated playhead drift
}

// Server configures the generation server binary.
type Server struct {
	ListenAddr string
	DataDir    string // sqlite database directory
	StorageDir string // audio file storage root
	PublicURL  string // base URL clients use to fetch audio
}

// Daemon configures the local playback daemon.
type Daemon struct {
	SocketPath  string
	PIDPath     string
	SessionPath string
	StatusHost  string
	StatusPort  int
	ServerURL   string
	DeviceName  string
	LocalPoll   time.Duration // song-list refresh in local mode
	Heartbeat   time.Duration // playlist heartbeat in local mode
	SyncPulse   time.Duration // room sync report interval
	IPCTimeout  time.Duration
	ConnectWait time.Duration // joinRoom wait for connected state
	MPVBinary   string
}

// Config is the process-wide configuration snapshot. Snapshots are immutable;
// hot reload swaps the whole value through a Holder.
type Config struct {
	LogLevel     string
	SettingsPath string

	Generation Generation
	Rooms      Rooms
	Server     Server
	Daemon     Daemon
}

// Defaults returns the design-default configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Generation: Generation{
			LLMModel:           "local",
			LLMConcurrency:     1,
			ImageConcurrency:   2,
			LLMTimeout:         6 * time.Minute,
			AudioSubmitTimeout: 30 * time.Second,
			AudioPollInterval:  2 * time.Second,
			NotFoundGrace:      120 * time.Second,
			BufferTarget:       3,
			MaxRetries:         2,
			DedupWindow:        10,
			HeartbeatStale:     90 * time.Second,
			StaleSongThreshold: 30 * time.Minute,
			PersonaInterval:    5 * time.Minute,
		},
		Rooms: Rooms{
			StartAtBuffer: 300 * time.Millisecond,
			DriftBound:    500 * time.Millisecond,
		},
		Server: Server{
			ListenAddr: ":8495",
			DataDir:    "./data",
			StorageDir: "./data/audio",
		},
		Daemon: Daemon{
			StatusHost:  "127.0.0.1",
			StatusPort:  8496,
			DeviceName:  "infinitune",
			LocalPoll:   4 * time.Second,
			Heartbeat:   30 * time.Second,
			SyncPulse:   time.Second,
			IPCTimeout:  4 * time.Second,
			ConnectWait: 4 * time.Second,
			MPVBinary:   "mpv",
		},
	}
}

// FromEnv builds a configuration from defaults overlaid with environment
// variables, then with the optional settings file.
func FromEnv() (Config, error) {
	cfg := Defaults()

	cfg.LogLevel = ParseString("INFINITUNE_LOG_LEVEL", cfg.LogLevel)
	cfg.SettingsPath = ParseString("INFINITUNE_SETTINGS", cfg.SettingsPath)

	g := &cfg.Generation
	g.LLMBaseURL = ParseString("INFINITUNE_LLM_URL", g.LLMBaseURL)
	g.LLMModel = ParseString("INFINITUNE_LLM_MODEL", g.LLMModel)
	g.ImageBaseURL = ParseString("INFINITUNE_IMAGE_URL", g.ImageBaseURL)
	g.AudioBaseURL = ParseString("INFINITUNE_AUDIO_URL", g.AudioBaseURL)
	g.LLMConcurrency = ParseInt("INFINITUNE_LLM_CONCURRENCY", g.LLMConcurrency)
	g.ImageConcurrency = ParseInt("INFINITUNE_IMAGE_CONCURRENCY", g.ImageConcurrency)
	g.LLMTimeout = ParseDuration("INFINITUNE_LLM_TIMEOUT", g.LLMTimeout)
	g.AudioSubmitTimeout = ParseDuration("INFINITUNE_AUDIO_SUBMIT_TIMEOUT", g.AudioSubmitTimeout)
	g.AudioPollInterval = ParseDuration("INFINITUNE_AUDIO_POLL_INTERVAL", g.AudioPollInterval)
	g.NotFoundGrace = ParseDuration("INFINITUNE_NOT_FOUND_GRACE", g.NotFoundGrace)
	g.BufferTarget = ParseInt("INFINITUNE_BUFFER_TARGET", g.BufferTarget)
	g.MaxRetries = ParseInt("INFINITUNE_MAX_RETRIES", g.MaxRetries)
	g.DedupWindow = ParseInt("INFINITUNE_DEDUP_WINDOW", g.DedupWindow)
	g.HeartbeatStale = ParseDuration("INFINITUNE_HEARTBEAT_STALE", g.HeartbeatStale)
	g.StaleSongThreshold = ParseDuration("INFINITUNE_STALE_SONG_THRESHOLD", g.StaleSongThreshold)
	g.PersonaInterval = ParseDuration("INFINITUNE_PERSONA_INTERVAL", g.PersonaInterval)

	cfg.Rooms.StartAtBuffer = ParseDuration("INFINITUNE_STARTAT_BUFFER", cfg.Rooms.StartAtBuffer)
	cfg.Rooms.DriftBound = ParseDuration("INFINITUNE_DRIFT_BOUND", cfg.Rooms.DriftBound)

	s := &cfg.Server
	s.ListenAddr = ParseString("INFINITUNE_LISTEN", s.ListenAddr)
	s.DataDir = ParseString("INFINITUNE_DATA_DIR", s.DataDir)
	s.StorageDir = ParseString("INFINITUNE_STORAGE_DIR", s.StorageDir)
	s.PublicURL = ParseString("INFINITUNE_PUBLIC_URL", s.PublicURL)

	d := &cfg.Daemon
	d.SocketPath = ParseString("INFINITUNE_SOCKET", d.SocketPath)
	d.PIDPath = ParseString("INFINITUNE_PIDFILE", d.PIDPath)
	d.SessionPath = ParseString("INFINITUNE_SESSION_FILE", d.SessionPath)
	d.StatusHost = ParseString("INFINITUNE_STATUS_HOST", d.StatusHost)
	d.StatusPort = ParseInt("INFINITUNE_STATUS_PORT", d.StatusPort)
	d.ServerURL = ParseString("INFINITUNE_SERVER_URL", d.ServerURL)
	d.DeviceName = ParseString("INFINITUNE_DEVICE_NAME", d.DeviceName)
	d.LocalPoll = ParseDuration("INFINITUNE_LOCAL_POLL", d.LocalPoll)
	d.Heartbeat = ParseDuration("INFINITUNE_HEARTBEAT", d.Heartbeat)
	d.SyncPulse = ParseDuration("INFINITUNE_SYNC_PULSE", d.SyncPulse)
	d.IPCTimeout = ParseDuration("INFINITUNE_IPC_TIMEOUT", d.IPCTimeout)
	d.ConnectWait = ParseDuration("INFINITUNE_CONNECT_WAIT", d.ConnectWait)
	d.MPVBinary = ParseString("INFINITUNE_MPV", d.MPVBinary)

	if cfg.SettingsPath != "" {
		if err := applySettingsFile(&cfg, cfg.SettingsPath); err != nil {
			return cfg, err
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
