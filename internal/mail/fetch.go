package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/rs/zerolog/log"
)

// Update is one notification, ready for parsing.
type Update struct {
	UID     uint32
	Subject string
	From    string
	Date    time.Time
	Body    string
}

type fetched struct {
	uid      uint32
	envelope *imap.Envelope
	raw      []byte
}

// FetchUnseen returns every unseen notification in the selected folder.
//
// Messages are fetched with BODY.PEEK so nothing is flagged here. Callers
// mark updates seen once they are stored. Notifications whose links are
// permanently broken are marked seen and dropped. Those that fail for
// transient reasons stay unseen and are retried on the next pass.
func (m *Mailbox) FetchUnseen(ctx context.Context) ([]Update, error) {
	crit := imap.NewSearchCriteria()
	crit.WithoutFlags = []string{imap.SeenFlag}
	crit.Header.Add("Subject", m.subject)
	crit.Header.Add("From", m.sender)

	uids, err := m.c.UidSearch(crit)
	if err != nil {
		return nil, fmt.Errorf("searching for notifications: %w", err)
	}
	if len(uids) == 0 {
		log.Debug().Msg("No unseen notifications")
		return nil, nil
	}
	log.Info().Int("count", len(uids)).Msg("Found unseen notifications")

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	var raws []fetched
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			log.Warn().Uint32("uid", msg.Uid).Msg("Message has no body")
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Failed to read message body")
			continue
		}
		raws = append(raws, fetched{uid: msg.Uid, envelope: msg.Envelope, raw: b})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}

	var (
		updates []Update
		broken  []uint32
	)
	for _, f := range raws {
		u, err := m.prepare(ctx, f)
		var se *StatusError
		switch {
		case errors.As(err, &se):
			// Old notifications point at links that no longer exist.
			log.Warn().Err(err).Uint32("uid", f.uid).Msg("Skipping notification with broken link")
			broken = append(broken, f.uid)
		case err != nil:
			if ctx.Err() != nil {
				return updates, ctx.Err()
			}
			log.Warn().Err(err).Uint32("uid", f.uid).Msg("Skipping notification for now")
		default:
			updates = append(updates, *u)
		}
	}

	if err := m.MarkSeen(ctx, broken); err != nil {
		log.Warn().Err(err).Msg("Failed to flag broken notifications")
	}
	return updates, nil
}

func (m *Mailbox) prepare(ctx context.Context, f fetched) (*Update, error) {
	msg, err := ReadMessage(bytes.NewReader(f.raw))
	if err != nil {
		return nil, err
	}
	return newUpdate(ctx, m.resolver, f.uid, f.envelope, msg)
}

func newUpdate(ctx context.Context, r *Resolver, uid uint32, env *imap.Envelope, msg *Message) (*Update, error) {
	body, err := r.Rewrite(ctx, msg)
	if err != nil {
		return nil, err
	}

	u := &Update{
		UID:     uid,
		Subject: msg.Subject,
		From:    msg.From,
		Date:    msg.Date,
		Body:    body,
	}
	if env != nil {
		if u.Subject == "" {
			u.Subject = env.Subject
		}
		if u.Date.IsZero() {
			u.Date = env.Date
		}
		if u.From == "" && len(env.From) > 0 {
			u.From = env.From[0].Address()
		}
	}
	if u.Date.IsZero() {
		u.Date = time.Now()
	}
	u.Date = u.Date.UTC()
	return u, nil
}

// MarkSeen flags the given messages as \Seen.
func (m *Mailbox) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := m.c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("flagging %d messages seen: %w", len(uids), err)
	}
	return nil
}
