package feed

import (
	"time"

	"github.com/gorilla/feeds"

	"rr2atom/internal/model"
)

// Build returns the Atom feed of a story. The feed is a pure function of its
// inputs: updated is the newest chapter's published time, not the clock.
func Build(story model.Story, chapters []model.Chapter) *feeds.Feed {
	f := &feeds.Feed{
		Id:          story.URL,
		Title:       story.Title,
		Link:        &feeds.Link{Href: story.URL, Rel: "alternate"},
		Description: story.Description,
		Author:      &feeds.Author{Name: story.AuthorName},
	}

	var updated time.Time
	for _, c := range chapters {
		published := c.Published.UTC()
		if published.After(updated) {
			updated = published
		}
		f.Items = append(f.Items, &feeds.Item{
			Id:          c.URL,
			Title:       c.Title,
			Description: c.Description,
			Link:        &feeds.Link{Href: c.URL, Rel: "alternate"},
			Created:     published,
		})
	}
	f.Updated = updated
	return f
}

// Atom renders the story feed as an Atom document. Entries carry the
// chapter's published time in UTC.
func Atom(story model.Story, chapters []model.Chapter) (string, error) {
	atom := (&feeds.Atom{Feed: Build(story, chapters)}).AtomFeed()
	for i, e := range atom.Entries {
		e.Published = chapters[i].Published.UTC().Format(time.RFC3339)
	}
	return feeds.ToXML(atom)
}
