package feed

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gilliek/go-opml/opml"

	"rr2atom/internal/model"
)

const SubscriptionsFile = "subscriptions.xml"

var unsafeFilename = regexp.MustCompile(`[/\\\x00]`)

// FileName returns the feed file name of a story: its title with path
// separators replaced, plus ".xml".
func FileName(title string) string {
	name := unsafeFilename.ReplaceAllString(title, "_")
	if name == "" || name == "." || name == ".." {
		name = "_" + name
	}
	return name + ".xml"
}

// JoinURL appends the percent-encoded file name to base with exactly one
// slash between them. Every byte outside A-Z a-z 0-9 and "-_.~" is escaped.
func JoinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + escapeName(name)
}

func escapeName(name string) string {
	// QueryEscape leaves only unreserved bytes; a literal '+' is already %2B.
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

// BuildOPML lists every story as an rss outline pointing at its feed.
func BuildOPML(stories []model.Story, baseURL string) opml.OPML {
	doc := opml.OPML{
		Version: "2.0",
		Head:    opml.Head{Title: "rr2atom subscriptions"},
	}
	for _, s := range stories {
		doc.Body.Outlines = append(doc.Body.Outlines, opml.Outline{
			Text:    s.Title,
			Title:   s.Title,
			Type:    "rss",
			XMLURL:  JoinURL(baseURL, FileName(s.Title)),
			HTMLURL: s.URL,
		})
	}
	return doc
}

func MarshalOPML(doc opml.OPML) ([]byte, error) {
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding opml: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}
