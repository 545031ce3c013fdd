// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue implements the endpoint queues in front of the generation
// providers. Lower numeric priority dequeues first; insertion order breaks
// ties. Exactly one executor call happens per accepted item.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrStopped is returned when enqueueing on a stopped queue.
	ErrStopped = errors.New("queue: stopped")
	// ErrCancelled is returned to callers whose item was revoked by songId.
	ErrCancelled = errors.New("queue: item cancelled")
)

// Executor runs one provider call. Results travel through the closure;
// the queue only cares about completion and error.
type Executor func(ctx context.Context) error

type outcome struct {
	err        error
	processing time.Duration
}

type item struct {
	songID   string
	endpoint string
	priority int
	seq      uint64
	exec     Executor
	done     chan outcome
	cancel   context.CancelFunc // non-nil while active
}

// Queue is the request-response endpoint queue used for LLM and image work.
// A sorted pending list feeds a bounded active set; the limit is adjustable
// at runtime without dropping work.
type Queue struct {
	name string

	mu      sync.Mutex
	pending []*item
	active  map[*item]struct{}
	limit   int
	seq     uint64
	stopped bool

	errCount int
	lastErr  string

	logger zerolog.Logger
}

// New creates a queue with the given active-slot limit.
func New(name string, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		name:   name,
		active: make(map[*item]struct{}),
		limit:  concurrency,
		logger: log.WithComponent("queue." + name),
	}
}

// Enqueue submits an executor and blocks until it completes, the context is
// done, or the item is cancelled by songId. Returns the executor wall time.
func (q *Queue) Enqueue(ctx context.Context, songID string, priority int, endpoint string, exec Executor) (time.Duration, error) {
	it := &item{
		songID:   songID,
		endpoint: endpoint,
		priority: priority,
		exec:     exec,
		done:     make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0, ErrStopped
	}
	q.seq++
	it.seq = q.seq
	q.pending = append(q.pending, it)
	q.dispatchLocked()
	q.updateDepthLocked()
	q.mu.Unlock()

	select {
	case out := <-it.done:
		return out.processing, out.err
	case <-ctx.Done():
		q.revoke(it)
		// The executor may have finished in the race; prefer its outcome.
		select {
		case out := <-it.done:
			return out.processing, out.err
		default:
			return 0, ctx.Err()
		}
	}
}

// revoke removes a pending item or cancels its running executor.
func (q *Queue) revoke(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == it {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.updateDepthLocked()
			return
		}
	}
	if _, ok := q.active[it]; ok && it.cancel != nil {
		it.cancel()
	}
}

// dispatchLocked promotes pending items into free active slots.
// Callers hold q.mu.
func (q *Queue) dispatchLocked() {
	for len(q.active) < q.limit && len(q.pending) > 0 {
		q.sortPendingLocked()
		it := q.pending[0]
		q.pending = q.pending[1:]

		ctx, cancel := context.WithCancel(context.Background())
		it.cancel = cancel
		q.active[it] = struct{}{}
		go q.run(ctx, it)
	}
}

func (q *Queue) run(ctx context.Context, it *item) {
	start := time.Now()
	err := it.exec(ctx)
	elapsed := time.Since(start)

	q.mu.Lock()
	delete(q.active, it)
	it.cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
			metrics.IncQueueCancelled(q.name)
		} else {
			q.errCount++
			q.lastErr = err.Error()
			metrics.IncQueueError(q.name)
		}
	}
	q.dispatchLocked()
	q.updateDepthLocked()
	q.mu.Unlock()

	metrics.ObserveQueueProcessing(q.name, it.endpoint, elapsed)
	it.done <- outcome{err: err, processing: elapsed}
}

func (q *Queue) sortPendingLocked() {
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].priority != q.pending[j].priority {
			return q.pending[i].priority < q.pending[j].priority
		}
		return q.pending[i].seq < q.pending[j].seq
	})
}

func (q *Queue) updateDepthLocked() {
	metrics.SetQueueDepth(q.name, len(q.pending), len(q.active))
}

// CancelSong revokes every pending and active item for the song.
func (q *Queue) CancelSong(songID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, it := range q.pending {
		if it.songID == songID {
			metrics.IncQueueCancelled(q.name)
			it.done <- outcome{err: ErrCancelled}
			continue
		}
		kept = append(kept, it)
	}
	q.pending = kept

	for it := range q.active {
		if it.songID == songID && it.cancel != nil {
			it.cancel()
		}
	}
	q.updateDepthLocked()
}

// UpdatePendingPriority changes the priority of pending items for a song.
// Enqueue order still breaks ties after the move.
func (q *Queue) UpdatePendingPriority(songID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.pending {
		if it.songID == songID {
			it.priority = priority
		}
	}
}

// ResortPending recomputes every pending priority through fn.
func (q *Queue) ResortPending(fn func(songID string) int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.pending {
		it.priority = fn(it.songID)
	}
}

// RefreshConcurrency changes the active-slot limit online. Raising the limit
// promotes waiting items immediately; lowering never interrupts running work.
func (q *Queue) RefreshConcurrency(limit int) {
	if limit < 1 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	old := q.limit
	q.limit = limit
	if limit > old {
		q.dispatchLocked()
	}
	q.logger.Info().
		Str("event", "queue.concurrency_changed").
		Int("old", old).
		Int("new", limit).
		Msg("active slot limit updated")
}

// Stats is a diagnostics snapshot.
type Stats struct {
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Errors    int    `json:"errors"`
	LastError string `json:"lastError,omitempty"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Active:    len(q.active),
		Errors:    q.errCount,
		LastError: q.lastErr,
	}
}

// Stop rejects new work and cancels everything in flight.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	for _, it := range q.pending {
		it.done <- outcome{err: ErrStopped}
	}
	q.pending = nil
	for it := range q.active {
		if it.cancel != nil {
			it.cancel()
		}
	}
	q.updateDepthLocked()
}
