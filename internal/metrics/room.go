// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomDevices tracks connected devices per room.
	RoomDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "infinitune_room_devices",
		Help: "Number of connected devices per room",
	}, []string{"room"})

	// RoomBroadcastFailuresTotal counts per-device send failures.
	RoomBroadcastFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infinitune_room_broadcast_failures_total",
		Help: "Total per-device send failures (device removed on failure)",
	})

	// RoomDriftCorrectionsTotal counts seek directives issued for drift.
	RoomDriftCorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infinitune_room_drift_corrections_total",
		Help: "Total drift-correcting seek directives issued",
	})

	// RoomMessagesTotal counts inbound room messages by kind.
	RoomMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infinitune_room_messages_total",
		Help: "Total inbound room messages by kind",
	}, []string{"kind"})
)
