package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tveebot/tracker/internal/config"
	"github.com/tveebot/tracker/internal/logging"
	"github.com/tveebot/tracker/pkg/errors"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tveebot-tracker",
	Short: "Tracks TV shows and downloads new episodes",
	Long: `Periodically checks the ShowRSS feed of every tracked TV show, records newly
published episodes and hands them to the downloader.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./config.yaml or $HOME/.tveebot/config.yaml)")
	flags.String("sqlite-path", ".tveebot/tracker.db", "SQLite database path")
	flags.String("queue-path", ".tveebot/queue.db", "handoff queue BoltDB path (empty keeps the queue in memory)")
	flags.String("fsm-db-path", ".tveebot/fsm", "FSM state directory")
	flags.String("lock-path", ".tveebot/tracker.lock", "daemon lock file")
	flags.String("download-dir", "downloads", "directory receiving downloaded episodes")
	flags.Duration("track-period", 15*time.Minute, "time between tracking passes")
	flags.String("showrss-url", "https://showrss.info/show", "ShowRSS show feed base URL")
	flags.String("s3-region", "us-east-1", "S3 region for s3:// links")
	flags.String("s3-endpoint", "", "S3 compatible endpoint for s3:// links")
	flags.Int("download-workers", 2, "concurrent downloads")
	flags.String("listen-addr", "127.0.0.1:8420", "admin API address (empty disables it)")
	flags.String("log-format", "auto", "log format: auto, text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	for _, name := range []string{
		"config", "sqlite-path", "queue-path", "fsm-db-path", "lock-path", "download-dir",
		"track-period", "showrss-url", "s3-region", "s3-endpoint", "download-workers",
		"listen-addr", "log-format", "log-level",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// setup loads the configuration and installs the configured logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	logger, err = logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "config invalid")
	}
	slog.SetDefault(logger)
	return nil
}
