package feed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gilliek/go-opml/opml"

	"rr2atom/internal/model"
	"rr2atom/internal/store"
)

type memSource struct {
	stories  []model.Story
	chapters map[uint][]model.Chapter
}

func (m *memSource) Story(_ context.Context, id uint) (*model.Story, error) {
	for _, s := range m.stories {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, fmt.Errorf("story %d: %w", id, store.ErrNotFound)
}

func (m *memSource) Stories(context.Context) ([]model.Story, error) {
	return m.stories, nil
}

func (m *memSource) Chapters(_ context.Context, id uint) ([]model.Chapter, error) {
	return m.chapters[id], nil
}

func testSource() *memSource {
	second := exampleStory()
	second.ID = 2
	second.Title = "Second/Story"
	return &memSource{
		stories:  []model.Story{exampleStory(), second},
		chapters: map[uint][]model.Chapter{1: exampleChapters()},
	}
}

func TestWriteOnlyTouchedFeeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "feeds")
	w := &Writer{Source: testSource(), Dir: dir, BaseURL: "https://example.com/"}

	n, err := w.Write(context.Background(), []uint{1, 1})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 1 {
		t.Errorf("written = %d, want 1", n)
	}

	if _, err := os.Stat(filepath.Join(dir, "Example Tale.xml")); err != nil {
		t.Errorf("touched feed missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Second_Story.xml")); !os.IsNotExist(err) {
		t.Errorf("untouched feed should not be written, stat err = %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, SubscriptionsFile))
	if err != nil {
		t.Fatalf("subscriptions missing: %v", err)
	}
	doc, err := opml.NewOPML(b)
	if err != nil {
		t.Fatalf("parsing subscriptions: %v", err)
	}
	if len(doc.Body.Outlines) != 2 {
		t.Errorf("subscriptions should list every story, got %d", len(doc.Body.Outlines))
	}
}

func TestWriteIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Source: testSource(), Dir: dir, BaseURL: "https://example.com/"}
	path := filepath.Join(dir, "Example Tale.xml")

	if _, err := w.Write(context.Background(), []uint{1}); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(context.Background(), []uint{1}); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("feed changed between identical regenerations")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".rr2atom-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteSkipsMissingStory(t *testing.T) {
	w := &Writer{Source: testSource(), Dir: t.TempDir(), BaseURL: "https://example.com/"}
	n, err := w.Write(context.Background(), []uint{99})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 0 {
		t.Errorf("written = %d, want 0", n)
	}
}
