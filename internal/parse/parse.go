// Package parse turns "new chapter" notification bodies into stories and
// chapters. Parsing never fails: fields that cannot be recovered get a
// placeholder value.
package parse

import (
	"regexp"
	"strings"

	"rr2atom/internal/mail"
	"rr2atom/internal/model"
)

const (
	DefaultSiteURL      = "https://royalroad.com/"
	DefaultAuthor       = "Author"
	DefaultDescription  = "Story Title"
	DefaultChapterTitle = "New Chapter"
)

var (
	urlPattern          = regexp.MustCompile(`(?P<url>https?://\S+)`)
	authorPattern       = regexp.MustCompile(`(?P<author>.*) has just posted a new chapter of`)
	descriptionPattern  = regexp.MustCompile(`has just posted a new chapter of (?P<title>.*) titled `)
	chapterTitlePattern = regexp.MustCompile(`has just posted a new chapter of .* titled (?P<title>.*)`)
)

func firstGroup(re *regexp.Regexp, s, fallback string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return fallback
}

func Author(body string) string {
	return firstGroup(authorPattern, body, DefaultAuthor)
}

func Description(body string) string {
	return firstGroup(descriptionPattern, body, DefaultDescription)
}

func ChapterTitle(body string) string {
	return firstGroup(chapterTitlePattern, body, DefaultChapterTitle)
}

// ChapterURL is the first link in body.
func ChapterURL(body string) string {
	return firstGroup(urlPattern, body, DefaultSiteURL)
}

// StoryURL is the chapter link cut before its /chapter segment.
func StoryURL(body string) string {
	m := urlPattern.FindStringSubmatch(body)
	if m == nil {
		return DefaultSiteURL
	}
	i := strings.Index(m[1], "/chapter")
	if i < 0 {
		return DefaultSiteURL
	}
	return m[1][:i]
}

// Story builds the story a notification belongs to. The title is the
// email subject, not the body text.
func Story(u mail.Update) model.Story {
	return model.Story{
		Title:       u.Subject,
		AuthorName:  Author(u.Body),
		URL:         StoryURL(u.Body),
		Description: Description(u.Body),
	}
}

func Chapter(u mail.Update) model.Chapter {
	return model.Chapter{
		URL:         ChapterURL(u.Body),
		Title:       ChapterTitle(u.Body),
		Description: u.Body,
		Published:   u.Date.UTC(),
	}
}
