// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus provides the in-process pub/sub channel the data service uses
// to announce entity transitions (song.created, playlist.steered, ...).
package bus

import "context"

// Message is an opaque event payload; subscribers type-switch on it.
type Message interface{}

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is the minimal pub/sub contract.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
