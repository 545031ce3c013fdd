// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEnqueueRunsExecutor(t *testing.T) {
	q := New("llm", 1)
	t.Cleanup(q.Stop)

	ran := false
	elapsed, err := q.Enqueue(context.Background(), "s1", 10, "llm", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestPriorityOrderWithFIFOTies(t *testing.T) {
	q := New("llm", 1)
	t.Cleanup(q.Stop)

	// Hold the single slot so the rest queues up in pending.
	release := make(chan struct{})
	blockerReady := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), "blocker", 0, "llm", func(ctx context.Context) error {
			close(blockerReady)
			<-release
			return nil
		})
	}()
	<-blockerReady

	var mu sync.Mutex
	var order []string
	enqueue := func(song string, prio int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), song, prio, "llm", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, song)
				mu.Unlock()
				return nil
			})
		}()
	}

	// Deterministic enqueue order for the tie-break check.
	enqueue("low-a", 20)
	require.Eventually(t, func() bool { return pendingIs(q, 1) }, time.Second, time.Millisecond)
	enqueue("high", 5)
	require.Eventually(t, func() bool { return pendingIs(q, 2) }, time.Second, time.Millisecond)
	enqueue("low-b", 20)
	require.Eventually(t, func() bool { return pendingIs(q, 3) }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	require.Equal(t, []string{"high", "low-a", "low-b"}, order)
}

func pendingIs(q *Queue, n int) bool { return q.Stats().Pending == n }

func TestConcurrencyCapAndRefresh(t *testing.T) {
	q := New("image", 1)
	t.Cleanup(q.Stop)

	release := make(chan struct{})
	started := make(chan string, 4)
	var wg sync.WaitGroup
	for _, song := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(song string) {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), song, 10, "image", func(ctx context.Context) error {
				started <- song
				<-release
				return nil
			})
		}(song)
	}

	<-started
	require.Eventually(t, func() bool { return q.Stats().Pending == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 1, q.Stats().Active)

	// Raising the limit promotes waiting items without new enqueues.
	q.RefreshConcurrency(3)
	<-started
	<-started
	require.Equal(t, 3, q.Stats().Active)

	close(release)
	wg.Wait()
}

func TestCancelSongRevokesPendingAndActive(t *testing.T) {
	q := New("llm", 1)
	t.Cleanup(q.Stop)

	activeStarted := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	var activeErr error
	go func() {
		defer wg.Done()
		_, activeErr = q.Enqueue(context.Background(), "victim", 0, "llm", func(ctx context.Context) error {
			close(activeStarted)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-activeStarted

	wg.Add(1)
	var pendingErr error
	go func() {
		defer wg.Done()
		_, pendingErr = q.Enqueue(context.Background(), "victim", 10, "llm", func(ctx context.Context) error {
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Stats().Pending == 1 }, time.Second, time.Millisecond)

	q.CancelSong("victim")
	wg.Wait()

	require.ErrorIs(t, activeErr, ErrCancelled)
	require.ErrorIs(t, pendingErr, ErrCancelled)
}

func TestEnqueueOnStoppedQueueFails(t *testing.T) {
	q := New("llm", 1)
	q.Stop()
	_, err := q.Enqueue(context.Background(), "s", 0, "llm", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrStopped)
}

func TestCallerContextCancelRemovesPending(t *testing.T) {
	q := New("llm", 1)
	t.Cleanup(q.Stop)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), "blocker", 0, "llm", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = q.Enqueue(ctx, "waiter", 10, "llm", func(ctx context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return q.Stats().Pending == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return q.Stats().Pending == 0 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	require.ErrorIs(t, err, context.Canceled)
}
