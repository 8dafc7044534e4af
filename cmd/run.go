package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"rr2atom/internal/app"
	"rr2atom/internal/config"
	"rr2atom/internal/feed"
	"rr2atom/internal/mail"
	"rr2atom/internal/store"
)

const retryDelay = 5 * time.Second

// session holds everything an update pass needs. Close releases the
// mailbox and store connections.
type session struct {
	cfg     *config.Config
	app     *app.App
	mailbox *mail.Mailbox
	store   *store.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagLogLevel == "" {
		setLogLevel(cfg.LogLevel)
	}
	return cfg, nil
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	if err := feed.InitDir(cfg.FeedsDirectory); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	mb, err := mail.Dial(ctx, mail.Options{
		Address:  cfg.IMAPAddress(),
		Username: cfg.Username,
		Password: cfg.Password,
		Folder:   cfg.Folder,
		Sender:   cfg.Sender,
		Subject:  cfg.Subject,
		Resolver: mail.NewResolver(cfg.HTTPTimeout),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening mailbox: %w", err)
	}

	return &session{
		cfg:     cfg,
		mailbox: mb,
		store:   st,
		app: &app.App{
			Mailbox: mb,
			Store:   st,
			Feeds: &feed.Writer{
				Source:  st,
				Dir:     cfg.FeedsDirectory,
				BaseURL: cfg.FeedBaseURL,
			},
			IdleReset:  cfg.IdleReset,
			RetryDelay: retryDelay,
		},
	}, nil
}

func (s *session) Close() {
	if err := s.mailbox.Close(); err != nil {
		log.Debug().Err(err).Msg("Logout failed")
	}
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing store failed")
	}
}
