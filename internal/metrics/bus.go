// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusDroppedTotal counts events the in-process bus failed to deliver.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_bus_dropped_total",
		Help: "Total number of bus events dropped by topic and reason",
	}, []string{"topic", "reason"})

	// BusPublishedTotal counts events published per topic.
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_bus_published_total",
		Help: "Total number of bus events published by topic",
	}, []string{"topic"})
)

// IncBusDropReason records a failed delivery.
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncBusPublished records a successful publish.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(topic).Inc()
}
