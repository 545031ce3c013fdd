// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// gather returns the metric family by name from the default registry.
func gather(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestSongTransitionCounterCarriesEdgeLabels(t *testing.T) {
	RecordSongTransition("pending", "generating_metadata")
	RecordSongTransition("pending", "generating_metadata")

	mf := gather(t, "infinitune_song_transitions_total")
	require.NotNil(t, mf)
	require.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	var found bool
	for _, m := range mf.GetMetric() {
		if labelValue(m, "from") == "pending" && labelValue(m, "to") == "generating_metadata" {
			found = true
			require.GreaterOrEqual(t, m.GetCounter().GetValue(), 2.0)
		}
	}
	require.True(t, found)
}

func TestHTTPRequestObservationRecordsBoth(t *testing.T) {
	ObserveHTTPRequest("GET", "/api/playlists/{id}", 200, 30*time.Millisecond)

	counter := gather(t, "infinitune_http_requests_total")
	require.NotNil(t, counter)
	var hits float64
	for _, m := range counter.GetMetric() {
		if labelValue(m, "route") == "/api/playlists/{id}" && labelValue(m, "code") == "200" {
			hits = m.GetCounter().GetValue()
		}
	}
	require.GreaterOrEqual(t, hits, 1.0)

	hist := gather(t, "infinitune_http_request_duration_seconds")
	require.NotNil(t, hist)
	require.Equal(t, dto.MetricType_HISTOGRAM, hist.GetType())
}

func TestQueueGaugesTrackDepth(t *testing.T) {
	QueuePending.WithLabelValues("llm").Set(3)
	QueueActive.WithLabelValues("llm").Set(1)

	mf := gather(t, "infinitune_queue_pending")
	require.NotNil(t, mf)
	for _, m := range mf.GetMetric() {
		if labelValue(m, "queue") == "llm" {
			require.Equal(t, 3.0, m.GetGauge().GetValue())
		}
	}
}
