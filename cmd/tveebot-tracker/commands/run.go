package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/tveebot/tracker/internal/config"
	"github.com/tveebot/tracker/pkg/api"
	"github.com/tveebot/tracker/pkg/downloader"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/security"
	"github.com/tveebot/tracker/pkg/source/showrss"
	"github.com/tveebot/tracker/pkg/storage"
	"github.com/tveebot/tracker/pkg/tracker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracker, the downloader and the admin API",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().Bool("once", false, "run a single tracking pass and exit")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureDirectories(
		[]string{cfg.SQLitePath, cfg.QueuePath, cfg.LockPath},
		[]string{cfg.FSMDBPath, cfg.DownloadDir},
	); err != nil {
		return err
	}

	// Two daemons sharing a database would hand out episodes twice.
	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquire lock")
	}
	if !locked {
		return errors.New("another tveebot-tracker daemon is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("lock_release_failed", "path", cfg.LockPath, "error", err)
		}
	}()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	q, err := openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	src := showrss.New(cfg.ShowRSSURL, cfg.HTTPTimeout, showrss.WithLogger(logger))
	tr := tracker.New(src, store, q, cfg.TrackPeriod,
		tracker.WithLogger(logger),
		tracker.WithMetrics(tracker.NewMetrics(reg)),
	)

	once, _ := cmd.Flags().GetBool("once")
	if once {
		res, err := tr.RunPass(ctx)
		if err != nil {
			return errors.Wrap(err, "tracking pass failed")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	s3Client, err := storage.NewClient(ctx, cfg.S3Region,
		storage.WithEndpoint(cfg.S3Endpoint),
		storage.WithClientLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}
	fetcher := storage.NewRouter().
		Handle(storage.NewHTTPClient(&http.Client{}, logger), "http", "https").
		Handle(s3Client, "s3")

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	validator := security.NewValidator(cfg.MaxFileSize, cfg.MaxTotalSize, logger)
	machine := downloader.NewMachine(store, fetcher, validator, cfg.DownloadDir, cfg.FSMMaxRetries, logger)
	dl, err := downloader.New(ctx, manager, machine, q, cfg.DownloadWorkers)
	if err != nil {
		return err
	}

	config.Watch(logger, func(c *config.Config) {
		if err := tr.SetPeriod(c.TrackPeriod); err != nil {
			logger.Error("config_apply_failed", "key", "track-period", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	if err := tr.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		tr.Stop()
		return nil
	})

	g.Go(func() error {
		recovered, err := dl.Recover(gctx)
		if err != nil && gctx.Err() == nil {
			return err
		}
		if recovered > 0 {
			logger.Info("downloads_recovered", "count", recovered)
		}
		return dl.Run(gctx)
	})

	if cfg.ListenAddr != "" {
		srv := api.NewServer(tr, reg, logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.ListenAddr)
		})
	}

	logger.Info("daemon_started", "lock", cfg.LockPath, "listen_addr", cfg.ListenAddr)
	err = g.Wait()
	logger.Info("daemon_stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
