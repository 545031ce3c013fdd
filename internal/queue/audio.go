// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/providers"
	"github.com/rs/zerolog"
)

// ErrAudioFailed is returned when the provider reports a failed render.
var ErrAudioFailed = errors.New("queue: audio task failed")

// SubmitFunc produces the provider task id for one song render.
type SubmitFunc func(ctx context.Context) (taskID string, err error)

type audioState int

const (
	audioSubmitting audioState = iota
	audioPolling
)

type audioItem struct {
	songID      string
	priority    int
	seq         uint64
	submit      SubmitFunc // nil for resumed items
	taskID      string
	submittedAt time.Time
	state       audioState
	done        chan audioOutcome
	cancel      context.CancelFunc
}

type audioOutcome struct {
	result model.AudioResult
	err    error
}

// AudioQueue is the submit-then-poll queue in front of the audio provider.
// Exactly one slot is active system-wide; a shared ticker advances the slot
// while it is polling.
type AudioQueue struct {
	provider providers.Audio
	interval time.Duration
	grace    time.Duration

	mu      sync.Mutex
	pending []*audioItem
	slot    *audioItem
	seq     uint64
	stopped bool

	errCount int
	lastErr  string

	now    func() time.Time
	logger zerolog.Logger
}

// NewAudioQueue builds the queue. interval paces polls, grace bounds how long
// not_found is tolerated after submission.
func NewAudioQueue(provider providers.Audio, interval, grace time.Duration) *AudioQueue {
	return &AudioQueue{
		provider: provider,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		logger:   log.WithComponent("queue.audio"),
	}
}

// Run drives the poll ticker until ctx is done, then stops the queue.
func (q *AudioQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.Stop()
			return ctx.Err()
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// Enqueue submits a render and blocks until the task resolves.
func (q *AudioQueue) Enqueue(ctx context.Context, songID string, priority int, submit SubmitFunc) (model.AudioResult, error) {
	return q.wait(ctx, &audioItem{
		songID:   songID,
		priority: priority,
		submit:   submit,
		done:     make(chan audioOutcome, 1),
	})
}

// ResumePoll re-attaches a known task without resubmitting. Resumed items
// carry priority 0 so recovery drains before new work.
func (q *AudioQueue) ResumePoll(ctx context.Context, songID, taskID string, submittedAt time.Time) (model.AudioResult, error) {
	return q.wait(ctx, &audioItem{
		songID:      songID,
		priority:    0,
		taskID:      taskID,
		submittedAt: submittedAt,
		state:       audioPolling,
		done:        make(chan audioOutcome, 1),
	})
}

func (q *AudioQueue) wait(ctx context.Context, it *audioItem) (model.AudioResult, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return model.AudioResult{}, ErrStopped
	}
	q.seq++
	it.seq = q.seq
	q.pending = append(q.pending, it)
	q.dispatchLocked()
	q.updateDepthLocked()
	q.mu.Unlock()

	select {
	case out := <-it.done:
		return out.result, out.err
	case <-ctx.Done():
		q.revoke(it)
		select {
		case out := <-it.done:
			return out.result, out.err
		default:
			return model.AudioResult{}, ctx.Err()
		}
	}
}

func (q *AudioQueue) revoke(it *audioItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == it {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			metrics.IncQueueCancelled("audio")
			q.updateDepthLocked()
			return
		}
	}
	if q.slot == it {
		// A task left running on the provider is accepted; it will later
		// report not_found or be ignored.
		if it.cancel != nil {
			it.cancel()
		}
		q.freeSlotLocked()
		metrics.IncQueueCancelled("audio")
	}
}

// dispatchLocked fills the single slot from the pending list.
func (q *AudioQueue) dispatchLocked() {
	if q.slot != nil || len(q.pending) == 0 {
		return
	}
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].priority != q.pending[j].priority {
			return q.pending[i].priority < q.pending[j].priority
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	it := q.pending[0]
	q.pending = q.pending[1:]
	q.slot = it

	if it.submit == nil {
		if it.submittedAt.IsZero() {
			it.submittedAt = q.now()
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	it.cancel = cancel
	it.state = audioSubmitting
	go q.runSubmit(ctx, it)
}

func (q *AudioQueue) runSubmit(ctx context.Context, it *audioItem) {
	taskID, err := it.submit(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.slot != it {
		// Revoked while submitting.
		return
	}
	if err != nil {
		q.errCount++
		q.lastErr = err.Error()
		metrics.IncQueueError("audio")
		q.resolveSlotLocked(audioOutcome{err: err})
		return
	}
	it.taskID = taskID
	it.submittedAt = q.now()
	it.state = audioPolling
}

// tick polls the active slot if it is in the polling substate.
func (q *AudioQueue) tick(ctx context.Context) {
	q.mu.Lock()
	it := q.slot
	if it == nil || it.state != audioPolling || it.taskID == "" {
		q.mu.Unlock()
		return
	}
	taskID := it.taskID
	q.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, q.interval*4)
	poll, err := q.provider.Poll(pollCtx, taskID)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.slot != it {
		return
	}
	if err != nil {
		// Transient poll failures leave the slot in place.
		q.errCount++
		q.lastErr = err.Error()
		q.logger.Warn().Err(err).
			Str(log.FieldTaskID, taskID).
			Msg("audio poll failed, will retry")
		return
	}
	metrics.IncAudioPollOutcome(string(poll.Status))

	switch poll.Status {
	case model.AudioRunning:
		// Remain in the slot.
	case model.AudioSucceeded:
		q.resolveSlotLocked(audioOutcome{result: model.AudioResult{
			TaskID:    taskID,
			AudioPath: poll.AudioPath,
			Status:    model.AudioSucceeded,
		}})
	case model.AudioFailed:
		q.errCount++
		q.lastErr = poll.Error
		metrics.IncQueueError("audio")
		q.resolveSlotLocked(audioOutcome{err: errAudioFailed(poll.Error)})
	case model.AudioNotFound:
		if q.now().Sub(it.submittedAt) < q.grace {
			// Provider may not have registered the task yet.
			return
		}
		q.resolveSlotLocked(audioOutcome{result: model.AudioResult{
			TaskID: taskID,
			Status: model.AudioNotFound,
		}})
	}
}

func errAudioFailed(msg string) error {
	if msg == "" {
		return ErrAudioFailed
	}
	return errors.Join(ErrAudioFailed, errors.New(msg))
}

// resolveSlotLocked delivers the outcome, frees the slot and drains the next
// item. Callers hold q.mu.
func (q *AudioQueue) resolveSlotLocked(out audioOutcome) {
	it := q.slot
	q.freeSlotLocked()
	it.done <- out
}

func (q *AudioQueue) freeSlotLocked() {
	q.slot = nil
	q.dispatchLocked()
	q.updateDepthLocked()
}

func (q *AudioQueue) updateDepthLocked() {
	active := 0
	if q.slot != nil {
		active = 1
	}
	metrics.SetQueueDepth("audio", len(q.pending), active)
}

// CancelSong revokes the song's items, pending or active.
func (q *AudioQueue) CancelSong(songID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, it := range q.pending {
		if it.songID == songID {
			metrics.IncQueueCancelled("audio")
			it.done <- audioOutcome{err: ErrCancelled}
			continue
		}
		kept = append(kept, it)
	}
	q.pending = kept

	if q.slot != nil && q.slot.songID == songID {
		it := q.slot
		if it.cancel != nil {
			it.cancel()
		}
		q.freeSlotLocked()
		metrics.IncQueueCancelled("audio")
		it.done <- audioOutcome{err: ErrCancelled}
	}
	q.updateDepthLocked()
}

// UpdatePendingPriority changes pending priorities for a song.
func (q *AudioQueue) UpdatePendingPriority(songID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.pending {
		if it.songID == songID {
			it.priority = priority
		}
	}
}

// ResortPending recomputes every pending priority through fn.
func (q *AudioQueue) ResortPending(fn func(songID string) int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.pending {
		it.priority = fn(it.songID)
	}
}

// Stats is a diagnostics snapshot.
func (q *AudioQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	active := 0
	if q.slot != nil {
		active = 1
	}
	return Stats{
		Pending:   len(q.pending),
		Active:    active,
		Errors:    q.errCount,
		LastError: q.lastErr,
	}
}

// Stop rejects new work and resolves everything in flight with ErrStopped.
func (q *AudioQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	for _, it := range q.pending {
		it.done <- audioOutcome{err: ErrStopped}
	}
	q.pending = nil
	if q.slot != nil {
		it := q.slot
		if it.cancel != nil {
			it.cancel()
		}
		q.slot = nil
		it.done <- audioOutcome{err: ErrStopped}
	}
	q.updateDepthLocked()
}
