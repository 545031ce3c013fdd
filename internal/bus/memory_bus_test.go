// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "song.created")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, b.Publish(ctx, "song.created", "hello"))

	select {
	case msg := <-sub.C():
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestPublishToOtherTopicIsInvisible(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "song.created")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	require.NoError(t, b.Publish(ctx, "playlist.steered", "other"))

	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsOnCancelledContext(t *testing.T) {
	b := NewMemoryBus()

	// An unread subscriber saturates its channel so the publish blocks.
	sub, err := b.Subscribe(context.Background(), "song.created")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lastErr error
	for i := 0; i < 64; i++ {
		if lastErr = b.Publish(ctx, "song.created", i); lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, context.Canceled)
}

func TestNilContextPublishFails(t *testing.T) {
	b := NewMemoryBus()
	//nolint:staticcheck // the nil guard is the subject under test
	require.Error(t, b.Publish(nil, "song.created", "x"))
}
