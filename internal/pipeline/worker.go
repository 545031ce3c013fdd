// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beastyrabbit/infinitune-sub001/internal/config"
	"github.com/beastyrabbit/infinitune-sub001/internal/fsutil"
	"github.com/beastyrabbit/infinitune-sub001/internal/log"
	"github.com/beastyrabbit/infinitune-sub001/internal/metrics"
	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/beastyrabbit/infinitune-sub001/internal/providers"
	"github.com/beastyrabbit/infinitune-sub001/internal/queue"
	"github.com/beastyrabbit/infinitune-sub001/internal/store"
	"github.com/beastyrabbit/infinitune-sub001/internal/tags"
	"github.com/rs/zerolog"
)

// Deps bundles what workers and the supervisor need.
type Deps struct {
	Store     store.Store
	Queues    *queue.Set
	Providers providers.Set
	Storage   *fsutil.Root
	Config    *config.Holder
}

// Worker drives one song through the state machine. It exits cleanly when a
// claim is lost, the song reaches a terminal state, or the playlist closes.
type Worker struct {
	deps   Deps
	songID string
	logger zerolog.Logger

	coverMu    sync.Mutex
	coverBytes []byte
	coverMIME  string
	coverFired bool
}

func NewWorker(deps Deps, songID string) *Worker {
	return &Worker{
		deps:   deps,
		songID: songID,
		logger: log.WithComponent("pipeline.worker").With().
			Str(log.FieldSongID, songID).Logger(),
	}
}

// Run executes until the song is terminal or the context is done. Starting
// from a mid-flight status recovers per the restart rules.
func (w *Worker) Run(ctx context.Context) error {
	metrics.WorkersLive.Inc()
	defer metrics.WorkersLive.Dec()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sg, err := w.deps.Store.GetSong(ctx, w.songID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		pl, err := w.deps.Store.GetPlaylist(ctx, sg.PlaylistID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if pl.Status == model.PlaylistClosed {
			return nil
		}

		switch sg.Status {
		case model.SongPending:
			err = w.stepMetadata(ctx, sg, pl)
		case model.SongGeneratingMetadata:
			// A previous process died mid-generation.
			err = w.revert(ctx, sg, model.SongPending)
		case model.SongMetadataReady:
			err = w.stepAudio(ctx, sg, pl)
		case model.SongSubmittingToAce:
			err = w.revert(ctx, sg, model.SongMetadataReady)
		case model.SongGeneratingAudio:
			if sg.AceTaskID != "" {
				err = w.stepResume(ctx, sg, pl)
			} else {
				err = w.revert(ctx, sg, model.SongMetadataReady)
			}
		case model.SongSaving:
			err = w.revert(ctx, sg, model.SongGeneratingAudio)
		case model.SongRetryPending:
			err = w.revertRetry(ctx, sg)
		case model.SongError:
			if sg.RetryCount >= w.deps.Config.Get().Generation.MaxRetries {
				w.logger.Warn().
					Int("retries", sg.RetryCount).
					Str("error", sg.ErrorMessage).
					Msg("song exhausted retries")
				return nil
			}
			err = w.deps.Store.RetryErrored(ctx, sg.ID)
		case model.SongReady, model.SongPlayed:
			return nil
		default:
			return fmt.Errorf("pipeline: unknown song status %q", sg.Status)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrCancelled) ||
				errors.Is(err, queue.ErrStopped) || errors.Is(err, store.ErrClaimLost) {
				return nil
			}
			return err
		}
	}
}

func (w *Worker) revert(ctx context.Context, sg *model.Song, to model.SongStatus) error {
	err := w.deps.Store.RevertTransient(ctx, sg.ID, to)
	if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrIllegalTransition) {
		return store.ErrClaimLost
	}
	if err == nil {
		metrics.RecordSongTransition(string(sg.Status), string(to))
	}
	return err
}

// revertRetry picks the retry entry point from what the song already has.
func (w *Worker) revertRetry(ctx context.Context, sg *model.Song) error {
	to := model.SongPending
	switch {
	case sg.AceTaskID != "":
		to = model.SongGeneratingAudio
	case sg.Metadata != nil:
		to = model.SongMetadataReady
	}
	err := w.deps.Store.UpdateSongStatus(ctx, sg.ID, to)
	if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrIllegalTransition) {
		return store.ErrClaimLost
	}
	return err
}

// fail persists the error state; the caller decides whether retries remain.
func (w *Worker) fail(ctx context.Context, songID string, cause error) error {
	w.logger.Error().Err(cause).Msg("song step failed")
	if err := w.deps.Store.MarkError(ctx, songID, cause.Error()); err != nil {
		if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrNotFound) {
			return store.ErrClaimLost
		}
		return err
	}
	return nil
}

// --- metadata ---

func (w *Worker) stepMetadata(ctx context.Context, sg *model.Song, pl *model.Playlist) error {
	ok, err := w.deps.Store.ClaimMetadata(ctx, sg.ID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrClaimLost
	}
	metrics.RecordSongTransition(string(model.SongPending), string(model.SongGeneratingMetadata))

	cfg := w.deps.Config.Get().Generation
	wq, err := w.deps.Store.GetWorkQueue(ctx, pl.ID, cfg.BufferTarget)
	if err != nil {
		return err
	}
	recent := wq.RecentDescriptions
	if len(recent) > cfg.DedupWindow {
		recent = recent[:cfg.DedupWindow]
	}

	var md model.Metadata
	prio := Priority(sg, pl)
	_, err = w.deps.Queues.LLM.Enqueue(ctx, sg.ID, prio, "llm", func(execCtx context.Context) error {
		execCtx, cancel := context.WithTimeout(execCtx, cfg.LLMTimeout)
		defer cancel()

		fresh, berr := w.refreshBrief(execCtx, pl, wq.MaxOrderIndex+1)
		if berr != nil {
			w.logger.Warn().Err(berr).Msg("manager brief refresh failed, continuing without")
		} else {
			pl = fresh
		}

		if gerr := w.deps.Providers.LLM.CompleteJSON(execCtx,
			metadataRequest(sg, pl, recent, ""), &md); gerr != nil {
			return gerr
		}
		if isDuplicate(&md, recent) {
			metrics.DuplicateRetryTotal.Inc()
			dup := md.Title + " by " + md.Artist
			md = model.Metadata{}
			return w.deps.Providers.LLM.CompleteJSON(execCtx,
				metadataRequest(sg, pl, recent, dup), &md)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, queue.ErrCancelled) || errors.Is(err, queue.ErrStopped) ||
			errors.Is(err, context.Canceled) {
			return err
		}
		return w.fail(ctx, sg.ID, err)
	}
	if strings.TrimSpace(md.Title) == "" || strings.TrimSpace(md.Artist) == "" {
		return w.fail(ctx, sg.ID, errors.New("metadata missing title or artist"))
	}

	if err := w.deps.Store.CompleteMetadata(ctx, sg.ID, &md); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			return store.ErrClaimLost
		}
		return err
	}
	metrics.RecordSongTransition(string(model.SongGeneratingMetadata), string(model.SongMetadataReady))
	return nil
}

// refreshBrief regenerates the manager brief when it lags the prompt epoch.
func (w *Worker) refreshBrief(ctx context.Context, pl *model.Playlist, nextOrderIndex int) (*model.Playlist, error) {
	if pl.ManagerBrief != "" && pl.ManagerEpoch >= pl.PromptEpoch {
		return pl, nil
	}
	var resp briefResponse
	if err := w.deps.Providers.LLM.CompleteJSON(ctx, briefRequest(pl, nextOrderIndex), &resp); err != nil {
		return pl, err
	}
	if err := w.deps.Store.UpdateManagerBrief(ctx, pl.ID, resp.Brief, resp.Plan, pl.PromptEpoch); err != nil {
		return pl, err
	}
	return w.deps.Store.GetPlaylist(ctx, pl.ID)
}

// --- cover ---

// fireCover launches best-effort cover generation. Failure never fails the
// song; the bytes are kept for embedding when the audio saves.
func (w *Worker) fireCover(ctx context.Context, sg *model.Song, pl *model.Playlist) {
	w.coverMu.Lock()
	if w.coverFired || sg.CoverURL != "" {
		w.coverMu.Unlock()
		return
	}
	w.coverFired = true
	w.coverMu.Unlock()

	go func() {
		prompt := "album cover art"
		if sg.Metadata != nil {
			prompt = fmt.Sprintf("album cover art for %q by %s, %s",
				sg.Metadata.Title, sg.Metadata.Artist, sg.Metadata.Mood)
		}
		prio := Priority(sg, pl)
		_, err := w.deps.Queues.Image.Enqueue(ctx, sg.ID, prio, "image", func(execCtx context.Context) error {
			data, format, gerr := w.deps.Providers.Image.Generate(execCtx, prompt)
			if gerr != nil {
				return gerr
			}
			rel := fmt.Sprintf("covers/%s.%s", sg.ID, format)
			if _, werr := w.deps.Storage.WriteFile(rel, data); werr != nil {
				return werr
			}
			w.coverMu.Lock()
			w.coverBytes = data
			w.coverMIME = "image/" + format
			w.coverMu.Unlock()
			return w.deps.Store.UpdateCover(execCtx, sg.ID, w.assetURL(rel))
		})
		if err != nil && !errors.Is(err, queue.ErrCancelled) && !errors.Is(err, queue.ErrStopped) {
			w.logger.Warn().Err(err).Msg("cover generation failed")
		}
	}()
}

// --- audio ---

func (w *Worker) stepAudio(ctx context.Context, sg *model.Song, pl *model.Playlist) error {
	w.fireCover(ctx, sg, pl)

	ok, err := w.deps.Store.ClaimAudio(ctx, sg.ID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrClaimLost
	}
	metrics.RecordSongTransition(string(model.SongMetadataReady), string(model.SongSubmittingToAce))

	cfg := w.deps.Config.Get().Generation
	prio := Priority(sg, pl)
	res, err := w.deps.Queues.Audio.Enqueue(ctx, sg.ID, prio, func(execCtx context.Context) (string, error) {
		execCtx, cancel := context.WithTimeout(execCtx, cfg.AudioSubmitTimeout)
		defer cancel()
		sub := providers.AudioSubmission{}
		if sg.Metadata != nil {
			sub = providers.AudioSubmission{
				Caption:       sg.Metadata.Caption,
				Lyrics:        sg.Metadata.Lyrics,
				BPM:           sg.Metadata.BPM,
				KeyScale:      sg.Metadata.KeyScale,
				TimeSignature: sg.Metadata.TimeSignature,
				Duration:      sg.Metadata.AudioDuration,
			}
		}
		taskID, serr := w.deps.Providers.Audio.Submit(execCtx, sub)
		if serr != nil {
			return "", serr
		}
		if uerr := w.deps.Store.UpdateAceTask(execCtx, sg.ID, taskID, time.Now().Unix()); uerr != nil {
			return "", uerr
		}
		metrics.RecordSongTransition(string(model.SongSubmittingToAce), string(model.SongGeneratingAudio))
		return taskID, nil
	})
	return w.handleAudioResult(ctx, sg, res, err)
}

func (w *Worker) stepResume(ctx context.Context, sg *model.Song, pl *model.Playlist) error {
	res, err := w.deps.Queues.Audio.ResumePoll(ctx, sg.ID, sg.AceTaskID,
		time.Unix(sg.AceSubmittedAt, 0))
	return w.handleAudioResult(ctx, sg, res, err)
}

func (w *Worker) handleAudioResult(ctx context.Context, sg *model.Song, res model.AudioResult, err error) error {
	if err != nil {
		if errors.Is(err, queue.ErrCancelled) || errors.Is(err, queue.ErrStopped) ||
			errors.Is(err, context.Canceled) {
			return err
		}
		return w.fail(ctx, sg.ID, err)
	}
	switch res.Status {
	case model.AudioSucceeded:
		return w.save(ctx, sg, res)
	case model.AudioNotFound:
		// Task evaporated on the provider; resubmit from metadata_ready.
		w.logger.Warn().Str(log.FieldTaskID, res.TaskID).Msg("audio task lost, resubmitting")
		return w.revert(ctx, sg, model.SongMetadataReady)
	default:
		return w.fail(ctx, sg.ID, fmt.Errorf("unexpected audio resolution %q", res.Status))
	}
}

// save copies the rendered audio into storage, embeds tags and marks ready.
func (w *Worker) save(ctx context.Context, sg *model.Song, res model.AudioResult) error {
	if err := w.deps.Store.UpdateSongStatus(ctx, sg.ID, model.SongSaving); err != nil {
		if errors.Is(err, store.ErrClaimLost) || errors.Is(err, store.ErrIllegalTransition) {
			return store.ErrClaimLost
		}
		return err
	}
	metrics.RecordSongTransition(string(model.SongGeneratingAudio), string(model.SongSaving))

	rel := fmt.Sprintf("songs/%s.mp3", sg.ID)
	var path string
	var err error
	if strings.HasPrefix(res.AudioPath, "http://") || strings.HasPrefix(res.AudioPath, "https://") {
		path, err = w.deps.Storage.Download(ctx, nil, res.AudioPath, rel)
	} else {
		path, err = w.deps.Storage.CopyFile(rel, res.AudioPath)
	}
	if err != nil {
		return w.fail(ctx, sg.ID, err)
	}

	if sg.Metadata != nil {
		album := "Infinitune"
		if pl, perr := w.deps.Store.GetPlaylist(ctx, sg.PlaylistID); perr == nil && pl.Name != "" {
			album = pl.Name
		}
		w.coverMu.Lock()
		cover, mime := w.coverBytes, w.coverMIME
		w.coverMu.Unlock()
		if terr := tags.Embed(path, sg.Metadata, album, cover, mime); terr != nil {
			// Playable audio beats perfect tags.
			w.logger.Warn().Err(terr).Msg("tag embedding failed")
		}
	}

	if err := w.deps.Store.UpdateStoragePath(ctx, sg.ID, path, w.assetURL(rel)); err != nil {
		return err
	}
	if err := w.deps.Store.MarkReady(ctx, sg.ID); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			return store.ErrClaimLost
		}
		return err
	}
	metrics.RecordSongTransition(string(model.SongSaving), string(model.SongReady))
	w.logger.Info().Str("event", "song.ready").Msg("song saved and ready")
	return nil
}

// assetURL maps a storage-relative path to the URL clients fetch it from.
func (w *Worker) assetURL(rel string) string {
	base := strings.TrimRight(w.deps.Config.Get().Server.PublicURL, "/")
	return base + "/audio/" + rel
}
