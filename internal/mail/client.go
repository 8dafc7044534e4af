package mail

import (
	"context"
	"fmt"
	"net"

	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Address  string
	Username string
	Password string
	Folder   string
	Sender   string
	Subject  string
	Resolver *Resolver
}

// Mailbox is a logged-in IMAP session with the notification folder
// selected read-write.
type Mailbox struct {
	c        *client.Client
	updates  chan client.Update
	sender   string
	subject  string
	resolver *Resolver
}

// ctxDialer lets a cancelled context abort the TCP connect.
type ctxDialer struct {
	ctx context.Context
}

func (d ctxDialer) Dial(network, addr string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(d.ctx, network, addr)
}

func Dial(ctx context.Context, opts Options) (*Mailbox, error) {
	c, err := client.DialWithDialerTLS(ctxDialer{ctx: ctx}, opts.Address, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.Address, err)
	}
	log.Info().Str("address", opts.Address).Msg("Connected to IMAP server")

	m, err := open(ctx, c, opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// open logs in and selects the folder on an established connection.
// Cancelling ctx meanwhile drops the connection.
func open(ctx context.Context, c *client.Client, opts Options) (*Mailbox, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	fail := func(err error) (*Mailbox, error) {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if stop() {
			_ = c.Logout()
		}
		return nil, err
	}

	if err := c.Login(opts.Username, opts.Password); err != nil {
		return fail(fmt.Errorf("login: %w", err))
	}
	log.Info().Str("username", opts.Username).Msg("Logged in")

	mbox, err := c.Select(opts.Folder, false)
	if err != nil {
		return fail(fmt.Errorf("selecting %s: %w", opts.Folder, err))
	}
	log.Debug().Str("folder", opts.Folder).Uint32("messages", mbox.Messages).Msg("Selected folder")

	if !stop() {
		return nil, ctx.Err()
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(0)
	}

	m := &Mailbox{
		c:        c,
		updates:  make(chan client.Update, 128),
		sender:   opts.Sender,
		subject:  opts.Subject,
		resolver: resolver,
	}
	c.Updates = m.updates
	return m, nil
}

func (m *Mailbox) Close() error {
	return m.c.Logout()
}
