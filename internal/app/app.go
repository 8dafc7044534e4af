// Package app runs update passes: notifications in, stored chapters and
// regenerated feeds out.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rr2atom/internal/feed"
	"rr2atom/internal/mail"
	"rr2atom/internal/metrics"
	"rr2atom/internal/model"
	"rr2atom/internal/parse"
)

type Mailbox interface {
	FetchUnseen(ctx context.Context) ([]mail.Update, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	WaitForMail(ctx context.Context, timeout time.Duration) (bool, error)
}

type Store interface {
	feed.Source
	AddStory(ctx context.Context, story *model.Story) (uint, error)
	AddChapter(ctx context.Context, storyID uint, chapter *model.Chapter) (uint, error)
	StoryIDByTitle(ctx context.Context, title string) (uint, bool, error)
}

type App struct {
	Mailbox Mailbox
	Store   Store
	Feeds   *feed.Writer

	// IdleReset bounds a single IDLE command.
	IdleReset time.Duration
	// RetryDelay is the pause after a failed serve iteration.
	RetryDelay time.Duration
}

// FetchNewChapters stores every unseen notification and returns the ids of
// the stories that received a chapter. Stored notifications are marked
// seen, including when a later one fails.
func (a *App) FetchNewChapters(ctx context.Context) ([]uint, error) {
	logger := zerolog.Ctx(ctx)

	updates, err := a.Mailbox.FetchUnseen(ctx)
	if err != nil {
		return nil, err
	}

	var (
		updated   []uint
		processed []uint32
	)
	markSeen := func() {
		if err := a.Mailbox.MarkSeen(ctx, processed); err != nil {
			logger.Warn().Err(err).Int("count", len(processed)).Msg("Failed to flag stored notifications")
		}
	}

	for _, u := range updates {
		id, err := a.storyFor(ctx, u)
		if err != nil {
			markSeen()
			return updated, err
		}

		chapter := parse.Chapter(u)
		if _, err := a.Store.AddChapter(ctx, id, &chapter); err != nil {
			markSeen()
			return updated, err
		}
		metrics.NotificationsProcessed.Inc()
		logger.Info().Str("story", u.Subject).Str("chapter", chapter.Title).Msg("Stored chapter")

		updated = append(updated, id)
		processed = append(processed, u.UID)
	}

	markSeen()
	return updated, nil
}

func (a *App) storyFor(ctx context.Context, u mail.Update) (uint, error) {
	id, found, err := a.Store.StoryIDByTitle(ctx, u.Subject)
	if err != nil || found {
		return id, err
	}

	story := parse.Story(u)
	id, err = a.Store.AddStory(ctx, &story)
	if err != nil {
		return 0, err
	}
	metrics.StoriesCreated.Inc()
	zerolog.Ctx(ctx).Info().Str("story", story.Title).Str("author", story.AuthorName).Msg("New story")
	return id, nil
}

// Update runs one pass: fetch, store, then regenerate the touched feeds and
// the subscription list.
func (a *App) Update(ctx context.Context) error {
	logger := log.With().Str("pass", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	updated, err := a.FetchNewChapters(ctx)
	if err != nil {
		metrics.UpdatePasses.WithLabelValues("error").Inc()
		return fmt.Errorf("fetching new chapters: %w", err)
	}

	n, err := a.Feeds.Write(ctx, updated)
	metrics.FeedsWritten.Add(float64(n))
	if err != nil {
		metrics.UpdatePasses.WithLabelValues("error").Inc()
		return fmt.Errorf("writing feeds: %w", err)
	}

	metrics.UpdatePasses.WithLabelValues("ok").Inc()
	logger.Info().
		Int("chapters", len(updated)).
		Int("feeds", n).
		Dur("took", time.Since(start)).
		Msg("Update pass done")
	return nil
}

// Serve runs an update pass, then idles and runs another pass whenever the
// server announces new mail. Failed iterations are logged and retried; only
// cancelling ctx stops the loop.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Update(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if err := a.idleOnce(ctx); err != nil && ctx.Err() == nil {
			metrics.ServeLoopErrors.Inc()
			log.Warn().Err(err).Dur("retry_in", a.RetryDelay).Msg("Serve iteration failed")
			sleep(ctx, a.RetryDelay)
		}
	}
	log.Info().Msg("Stopped serving")
	return nil
}

func (a *App) idleOnce(ctx context.Context) error {
	got, err := a.Mailbox.WaitForMail(ctx, a.IdleReset)
	if err != nil {
		return err
	}
	if !got || ctx.Err() != nil {
		return nil
	}
	return a.Update(ctx)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
