// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePending tracks the number of pending items per endpoint queue.
	QueuePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "infinitune_queue_pending",
		Help: "Number of pending items per endpoint queue",
	}, []string{"queue"})

	// QueueActive tracks the number of active slots per endpoint queue.
	QueueActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "infinitune_queue_active",
		Help: "Number of active executor slots per endpoint queue",
	}, []string{"queue"})

	// QueueProcessingDuration observes executor wall time per endpoint.
	QueueProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infinitune_queue_processing_duration_seconds",
		Help:    "Executor processing time per endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"queue", "endpoint"})

	// QueueErrorsTotal counts executor failures per queue.
	QueueErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_queue_errors_total",
		Help: "Total executor failures per endpoint queue",
	}, []string{"queue"})

	// QueueCancelledTotal counts cancelled items per queue.
	QueueCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_queue_cancelled_total",
		Help: "Total cancelled items per endpoint queue",
	}, []string{"queue"})

	// AudioPollOutcomeTotal counts audio poll tick outcomes.
	AudioPollOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_audio_poll_outcome_total",
		Help: "Total audio poll outcomes by provider status",
	}, []string{"status"})
)

// SetQueueDepth records pending and active counts for a queue.
func SetQueueDepth(queue string, pending, active int) {
	QueuePending.WithLabelValues(queue).Set(float64(pending))
	QueueActive.WithLabelValues(queue).Set(float64(active))
}

// ObserveQueueProcessing records one executor completion.
func ObserveQueueProcessing(queue, endpoint string, d time.Duration) {
	QueueProcessingDuration.WithLabelValues(queue, endpoint).Observe(d.Seconds())
}

// IncQueueError records an executor failure.
func IncQueueError(queue string) {
	QueueErrorsTotal.WithLabelValues(queue).Inc()
}

// IncQueueCancelled records a cancelled item.
func IncQueueCancelled(queue string) {
	QueueCancelledTotal.WithLabelValues(queue).Inc()
}

// IncAudioPollOutcome records one audio poll result.
func IncAudioPollOutcome(status string) {
	AudioPollOutcomeTotal.WithLabelValues(status).Inc()
}
