// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/providers"
	"github.com/stretchr/testify/require"
)

// fakeAudio scripts poll responses per task id.
type fakeAudio struct {
	mu    sync.Mutex
	polls map[string][]model.AudioPoll
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{polls: make(map[string][]model.AudioPoll)}
}

func (f *fakeAudio) script(taskID string, polls ...model.AudioPoll) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[taskID] = polls
}

func (f *fakeAudio) Submit(ctx context.Context, sub providers.AudioSubmission) (string, error) {
	panic("not used")
}

func (f *fakeAudio) Poll(ctx context.Context, taskID string) (model.AudioPoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.polls[taskID]
	if len(queue) == 0 {
		return model.AudioPoll{TaskID: taskID, Status: model.AudioNotFound}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.polls[taskID] = queue[1:]
	}
	next.TaskID = taskID
	return next, nil
}

func (f *fakeAudio) BatchPoll(ctx context.Context, taskIDs []string) (map[string]model.AudioPoll, error) {
	out := make(map[string]model.AudioPoll, len(taskIDs))
	for _, id := range taskIDs {
		poll, _ := f.Poll(ctx, id)
		out[id] = poll
	}
	return out, nil
}

func startAudioQueue(t *testing.T, q *AudioQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestAudioSubmitThenSucceed(t *testing.T) {
	fake := newFakeAudio()
	fake.script("t1",
		model.AudioPoll{Status: model.AudioRunning},
		model.AudioPoll{Status: model.AudioSucceeded, AudioPath: "/out/t1.mp3"},
	)
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Minute)
	startAudioQueue(t, q)

	res, err := q.Enqueue(context.Background(), "s1", 10, func(ctx context.Context) (string, error) {
		return "t1", nil
	})
	require.NoError(t, err)
	require.Equal(t, model.AudioSucceeded, res.Status)
	require.Equal(t, "t1", res.TaskID)
	require.Equal(t, "/out/t1.mp3", res.AudioPath)
}

func TestAudioSingleSlot(t *testing.T) {
	fake := newFakeAudio()
	fake.script("a", model.AudioPoll{Status: model.AudioSucceeded})
	fake.script("b", model.AudioPoll{Status: model.AudioSucceeded})
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Minute)
	startAudioQueue(t, q)

	var maxActive int
	var mu sync.Mutex
	observe := func() {
		s := q.Stats()
		mu.Lock()
		if s.Active > maxActive {
			maxActive = s.Active
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, task := range []string{"a", "b"} {
		wg.Add(1)
		go func(task string) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), "song-"+task, 10, func(ctx context.Context) (string, error) {
				observe()
				return task, nil
			})
			require.NoError(t, err)
		}(task)
	}
	wg.Wait()
	observe()

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxActive, 1)
}

func TestAudioNotFoundWithinGraceDoesNotResolve(t *testing.T) {
	fake := newFakeAudio()
	fake.script("t1",
		model.AudioPoll{Status: model.AudioNotFound},
		model.AudioPoll{Status: model.AudioNotFound},
		model.AudioPoll{Status: model.AudioSucceeded, AudioPath: "/out/t1.mp3"},
	)
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Minute)
	startAudioQueue(t, q)

	res, err := q.Enqueue(context.Background(), "s1", 10, func(ctx context.Context) (string, error) {
		return "t1", nil
	})
	require.NoError(t, err)
	require.Equal(t, model.AudioSucceeded, res.Status)
}

func TestAudioNotFoundPastGraceResolves(t *testing.T) {
	fake := newFakeAudio()
	q := NewAudioQueue(fake, 5*time.Millisecond, 0)
	startAudioQueue(t, q)

	res, err := q.Enqueue(context.Background(), "s1", 10, func(ctx context.Context) (string, error) {
		return "missing", nil
	})
	require.NoError(t, err)
	require.Equal(t, model.AudioNotFound, res.Status)
}

func TestAudioFailedResolvesError(t *testing.T) {
	fake := newFakeAudio()
	fake.script("t1", model.AudioPoll{Status: model.AudioFailed, Error: "render blew up"})
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Minute)
	startAudioQueue(t, q)

	_, err := q.Enqueue(context.Background(), "s1", 10, func(ctx context.Context) (string, error) {
		return "t1", nil
	})
	require.ErrorIs(t, err, ErrAudioFailed)
	require.Contains(t, err.Error(), "render blew up")

	stats := q.Stats()
	require.Equal(t, 1, stats.Errors)
	require.Equal(t, "render blew up", stats.LastError)
}

func TestAudioResumePollSkipsSubmission(t *testing.T) {
	fake := newFakeAudio()
	fake.script("known", model.AudioPoll{Status: model.AudioSucceeded, AudioPath: "/out/known.mp3"})
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Minute)
	startAudioQueue(t, q)

	res, err := q.ResumePoll(context.Background(), "s1", "known", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, model.AudioSucceeded, res.Status)
	require.Equal(t, "/out/known.mp3", res.AudioPath)
}

func TestAudioCancelSong(t *testing.T) {
	fake := newFakeAudio()
	fake.script("t1") // never resolves: defaults to not_found, inside grace
	q := NewAudioQueue(fake, 5*time.Millisecond, time.Hour)
	startAudioQueue(t, q)

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = q.Enqueue(context.Background(), "victim", 10, func(ctx context.Context) (string, error) {
			return "t1", nil
		})
	}()
	require.Eventually(t, func() bool { return q.Stats().Active == 1 }, time.Second, time.Millisecond)

	q.CancelSong("victim")
	wg.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, 0, q.Stats().Active)
}

var _ providers.Audio = (*fakeAudio)(nil)
