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
	// IPCRequestDuration observes local control socket request handling.
	IPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infinitune_ipc_request_duration_seconds",
		Help:    "Local IPC request handling time by action",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 4},
	}, []string{"action"})

	// IPCRequestsTotal counts IPC requests by action and result.
	IPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_ipc_requests_total",
		Help: "Total local IPC requests by action and result",
	}, []string{"action", "result"})
)

// ObserveIPCRequest records one IPC request.
func ObserveIPCRequest(action string, ok bool, d time.Duration) {
	result := "error"
	if ok {
		result = "ok"
	}
	IPCRequestsTotal.WithLabelValues(action, result).Inc()
	IPCRequestDuration.WithLabelValues(action).Observe(d.Seconds())
}
