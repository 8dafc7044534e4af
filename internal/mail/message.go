package mail

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"
)

// Message is the part of a notification email we care about.
type Message struct {
	Subject string
	From    string
	Date    time.Time
	Text    string
	HTML    string
}

// ReadMessage parses a full RFC 822 message. When there is no text/plain
// part the text is extracted from the HTML part instead.
func ReadMessage(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	msg := &Message{}
	header := mr.Header
	if msg.Subject, err = header.Subject(); err != nil {
		log.Warn().Err(err).Msg("Failed to decode subject")
	}
	if msg.Date, err = header.Date(); err != nil {
		log.Debug().Err(err).Msg("Failed to parse date header")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("reading part of %q: %w", msg.Subject, err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("reading %s part of %q: %w", ct, msg.Subject, err)
		}

		switch {
		case ct == "text/plain" && msg.Text == "":
			msg.Text = string(b)
		case ct == "text/html" && msg.HTML == "":
			msg.HTML = string(b)
		}
	}

	if msg.Text == "" && msg.HTML != "" {
		article, err := readability.FromReader(strings.NewReader(msg.HTML), nil)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to extract text from HTML part")
		} else {
			msg.Text = article.TextContent
		}
	}

	return msg, nil
}
