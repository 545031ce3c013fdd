// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SongTransitionsTotal counts song state machine transitions.
	SongTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_song_transitions_total",
		Help: "Total song status transitions by edge",
	}, []string{"from", "to"})

	// BufferFillTotal counts songs created by the buffer policy.
	BufferFillTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_buffer_fill_total",
		Help: "Total songs created to satisfy the playlist buffer target",
	}, []string{"mode"})

	// EpochPurgeTotal counts pending songs deleted on steer.
	EpochPurgeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infinitune_epoch_purge_total",
		Help: "Total stale pending songs deleted after a prompt epoch change",
	})

	// WorkersLive tracks the number of live song workers.
	WorkersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infinitune_song_workers_live",
		Help: "Number of live song workers",
	})

	// DuplicateRetryTotal counts metadata duplicate retries.
	DuplicateRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infinitune_metadata_duplicate_retry_total",
		Help: "Total metadata generations retried due to a duplicate title/artist",
	})
)

// RecordSongTransition records one song status edge.
func RecordSongTransition(from, to string) {
	SongTransitionsTotal.WithLabelValues(from, to).Inc()
}
