package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
)

// WaitForMail idles until the server reports a mailbox change, timeout
// elapses or ctx is done. It reports whether new mail was announced. The
// IDLE command is always terminated before returning.
func (m *Mailbox) WaitForMail(ctx context.Context, timeout time.Duration) (bool, error) {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.c.Idle(stop, nil)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var got bool
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			log.Debug().Msg("Re-issuing IDLE")
			break loop
		case err := <-done:
			if err != nil {
				return false, fmt.Errorf("idle: %w", err)
			}
			return false, nil
		case u := <-m.updates:
			if mu, ok := u.(*client.MailboxUpdate); ok {
				log.Debug().Uint32("messages", mu.Mailbox.Messages).Msg("Mailbox update")
				got = true
				break loop
			}
		}
	}

	close(stop)
	if err := <-done; err != nil {
		return got, fmt.Errorf("idle done: %w", err)
	}
	return got, nil
}
