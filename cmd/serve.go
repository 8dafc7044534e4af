package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rr2atom/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Update, then keep watching the mailbox with IMAP IDLE",
	Long: `Run an update pass, then idle on the mailbox and run another pass whenever
new mail arrives. With --listen (or the listen config key) the feeds
directory is also served over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Listen = flagListen
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if cfg.Listen != "" {
			go func() {
				if err := server.Run(ctx, cfg.Listen, cfg.FeedsDirectory); err != nil {
					log.Error().Err(err).Msg("Feed server stopped")
				}
			}()
		}

		return s.app.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "serve feeds over HTTP on this address (e.g. :8080)")
}
