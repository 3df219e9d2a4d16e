package downloader

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/queue"
)

// Sink accepts episodes to download.
type Sink interface {
	Accept(ctx context.Context, ep episode.Episode, file episode.File) error
}

// Downloader runs one download workflow per queued episode.
type Downloader struct {
	manager *fsm.Manager
	start   fsm.Start[DownloadRequest, DownloadResponse]
	store   *db.Store
	queue   queue.Queue
	workers int
	logger  *slog.Logger
}

var _ Sink = (*Downloader)(nil)

// New registers the download workflow on manager.
func New(ctx context.Context, manager *fsm.Manager, machine *Machine, q queue.Queue, workers int) (*Downloader, error) {
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	return &Downloader{
		manager: manager,
		start:   start,
		store:   machine.store,
		queue:   q,
		workers: workers,
		logger:  machine.logger,
	}, nil
}

// Accept downloads the file of an episode and waits for the workflow to end.
func (d *Downloader) Accept(ctx context.Context, ep episode.Episode, file episode.File) error {
	return d.accept(ctx, ep, file, false)
}

func (d *Downloader) accept(ctx context.Context, ep episode.Episode, file episode.File, resume bool) error {
	req := &DownloadRequest{
		JobID:   uuid.NewString(),
		Episode: ep,
		File:    file,
		Resume:  resume,
	}
	resp := &DownloadResponse{}

	version, err := d.start(ctx, req.JobID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	d.logger.Info("download_job_started", "job_id", req.JobID, "episode", ep.Key().String(), "resume", resume, "version", version)

	if err := d.manager.Wait(ctx, version); err != nil {
		return errors.Wrapf(err, "download of episode %s failed", ep.Key())
	}
	return nil
}

// Run consumes the queue until ctx is done or the queue is closed. Episodes
// popped while shutting down are pushed back.
func (d *Downloader) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			return d.work(gctx)
		})
	}
	return g.Wait()
}

func (d *Downloader) work(ctx context.Context) error {
	for {
		item, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to pop download queue")
		}

		err = d.Accept(ctx, item.Episode, item.File)
		if err == nil {
			continue
		}

		key := item.Episode.Key().String()
		if ctx.Err() == nil {
			// The episode stays QUEUED or DOWNLOADING and is retried by
			// Recover on the next start.
			d.logger.Error("download_job_failed", "episode", key, "error", err)
			continue
		}

		d.logger.Warn("download_job_interrupted", "episode", key, "error", err)
		if err := d.queue.Push(context.WithoutCancel(ctx), item); err != nil {
			d.logger.Error("download_requeue_failed", "episode", key, "error", err)
		}
		return nil
	}
}

// Recover restarts the download of episodes a previous run did not finish:
// episodes left DOWNLOADING, and QUEUED episodes whose queue item was lost.
// QUEUED episodes still waiting in a persistent queue are left to Run. It
// returns the number of episodes handled again.
func (d *Downloader) Recover(ctx context.Context) (int, error) {
	type pending struct {
		ep     episode.Episode
		file   episode.File
		resume bool
	}
	var jobs []pending

	err := d.store.View(ctx, func(tx *db.Tx) error {
		for _, state := range []episode.State{episode.StateDownloading, episode.StateQueued} {
			episodes, err := tx.EpisodesInState(ctx, state)
			if err != nil {
				return err
			}
			for _, ep := range episodes {
				file, err := tx.FileFor(ctx, ep.Key())
				if err != nil {
					return err
				}
				jobs = append(jobs, pending{ep: ep, file: file, resume: state == episode.StateDownloading})
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to load interrupted downloads")
	}

	// Read after the store so that every committed QUEUED episode is either
	// listed here or was never pushed.
	queued := map[episode.Key]bool{}
	if lister, ok := d.queue.(queue.Lister); ok {
		items, err := lister.Items()
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			queued[item.Episode.Key()] = true
		}
	}

	recovered := 0
	for _, job := range jobs {
		key := job.ep.Key()
		if !job.resume && queued[key] {
			continue
		}
		d.logger.Info("download_recovering", "episode", key.String(), "state", job.ep.State.String())
		if err := d.accept(ctx, job.ep, job.file, job.resume); err != nil {
			if ctx.Err() != nil {
				return recovered, ctx.Err()
			}
			d.logger.Error("download_recover_failed", "episode", key.String(), "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}
