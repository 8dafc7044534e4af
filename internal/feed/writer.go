package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"rr2atom/internal/model"
	"rr2atom/internal/store"
)

// Source is the read side of the store.
type Source interface {
	Story(ctx context.Context, id uint) (*model.Story, error)
	Stories(ctx context.Context) ([]model.Story, error)
	Chapters(ctx context.Context, storyID uint) ([]model.Chapter, error)
}

// Writer regenerates feed files in Dir.
type Writer struct {
	Source  Source
	Dir     string
	BaseURL string
}

// InitDir creates the output directory if needed.
func InitDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating feeds directory %s: %w", dir, err)
	}
	return nil
}

// Write regenerates the feeds of the given stories, then the subscription
// list of all stories. It returns the number of story feeds written.
func (w *Writer) Write(ctx context.Context, storyIDs []uint) (int, error) {
	if err := InitDir(w.Dir); err != nil {
		return 0, err
	}

	written := 0
	seen := make(map[uint]bool, len(storyIDs))
	for _, id := range storyIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		story, err := w.Source.Story(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Uint("story_id", id).Msg("Story vanished before its feed was written")
			continue
		}
		if err != nil {
			return written, err
		}
		if err := w.WriteStory(ctx, *story); err != nil {
			return written, err
		}
		written++
	}

	if err := w.WriteSubscriptions(ctx); err != nil {
		return written, err
	}
	return written, nil
}

// WriteStory writes the Atom feed of one story.
func (w *Writer) WriteStory(ctx context.Context, story model.Story) error {
	chapters, err := w.Source.Chapters(ctx, story.ID)
	if err != nil {
		return err
	}
	atom, err := Atom(story, chapters)
	if err != nil {
		return fmt.Errorf("rendering feed of %q: %w", story.Title, err)
	}
	path := filepath.Join(w.Dir, FileName(story.Title))
	if err := writeFile(path, []byte(atom)); err != nil {
		return err
	}
	log.Info().Str("story", story.Title).Int("chapters", len(chapters)).Str("path", path).Msg("Wrote feed")
	return nil
}

// WriteSubscriptions rewrites the OPML list from every stored story, since
// a batch may have introduced a new one.
func (w *Writer) WriteSubscriptions(ctx context.Context) error {
	stories, err := w.Source.Stories(ctx)
	if err != nil {
		return err
	}
	b, err := MarshalOPML(BuildOPML(stories, w.BaseURL))
	if err != nil {
		return err
	}
	path := filepath.Join(w.Dir, SubscriptionsFile)
	if err := writeFile(path, b); err != nil {
		return err
	}
	log.Debug().Int("stories", len(stories)).Str("path", path).Msg("Wrote subscriptions")
	return nil
}

// writeFile replaces path atomically so a concurrent reader never sees a
// partial feed.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rr2atom-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
