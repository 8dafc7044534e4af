package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rr2atom/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rr2atom",
	Short: "Turn Royal Road chapter notification emails into Atom feeds",
	Long: `rr2atom reads "new chapter" notifications from an IMAP folder, stores the
chapters in a database and publishes one Atom feed per story plus an OPML
subscription list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(flagLogLevel)
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rr2atom %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Create the config file with default values if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := config.Touch(flagConfig)
		if err != nil {
			return err
		}
		if created {
			log.Info().Str("path", flagConfig).Msg("Wrote default config")
		} else {
			log.Info().Str("path", flagConfig).Msg("Config already exists")
		}
		return nil
	},
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	setLogLevel(level)
}

func setLogLevel(level string) {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("rr2atom failed")
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
