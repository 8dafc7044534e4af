package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:92.0) Gecko/20100101 Firefox/92.0"

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	trackingPattern = regexp.MustCompile(`https://email-click\.royalroad\.com/\w+/\w+`)

	// Tried in order against the HTML part.
	buttonSelectors = []cascadia.Matcher{
		cascadia.MustCompile(`a.button`),
		cascadia.MustCompile(`a.btn`),
		cascadia.MustCompile(`td.button a`),
		cascadia.MustCompile(`a[href*="email-click.royalroad.com"]`),
		cascadia.MustCompile(`a[href*="/chapter/"]`),
	}
)

// StatusError is returned when a link resolves to an HTTP error status.
// Such links are considered permanently broken.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Resolver follows the tracking redirect in a notification to find the
// real chapter URL.
type Resolver struct {
	Client    *http.Client
	UserAgent string
}

func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: UserAgent,
	}
}

// Resolve requests rawURL, following redirects, and returns the final URL.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp.Request.URL.String(), nil
}

// Rewrite returns the plaintext body of msg with its first link replaced
// by the resolved chapter URL. Carriage returns and leftover tracking links
// are removed. A body without any link is returned as is, minus the
// carriage returns.
//
// If the plaintext link is broken, the button link of the HTML part is
// tried before giving up.
func (r *Resolver) Rewrite(ctx context.Context, msg *Message) (string, error) {
	body := msg.Text
	loc := urlPattern.FindStringIndex(body)
	if loc == nil {
		return strings.ReplaceAll(body, "\r", ""), nil
	}

	chapterURL, err := r.Resolve(ctx, body[loc[0]:loc[1]])
	var se *StatusError
	if errors.As(err, &se) {
		if button := ButtonLink(msg.HTML); button != "" {
			chapterURL, err = r.Resolve(ctx, button)
		}
	}
	if err != nil {
		return "", err
	}

	body = body[:loc[0]] + chapterURL + body[loc[1]:]
	body = strings.ReplaceAll(body, "\r", "")
	body = trackingPattern.ReplaceAllString(body, "")
	return body, nil
}

// ButtonLink returns the href of the "read chapter" button in an HTML
// notification, or "" if none is found.
func ButtonLink(doc string) string {
	if doc == "" {
		return ""
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	for _, sel := range buttonSelectors {
		n := cascadia.Query(root, sel)
		if n == nil {
			continue
		}
		for _, a := range n.Attr {
			if a.Key == "href" && strings.HasPrefix(a.Val, "http") {
				return a.Val
			}
		}
	}
	return ""
}
