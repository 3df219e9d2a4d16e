// Package tracker implements the tracking loop: it periodically fetches the
// feed of every tracked show, stores newly published episodes and hands them
// to the downloader through the handoff queue.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/queue"
	"github.com/tveebot/tracker/pkg/source"
)

var (
	// ErrAlreadyRunning is returned by Start on a running tracker.
	ErrAlreadyRunning = errors.New("tracker already running")

	// ErrStopped is returned by Start on a tracker that was stopped. A
	// stopped tracker cannot be restarted.
	ErrStopped = errors.New("tracker stopped")

	// errShowRemoved signals that a show disappeared from the store while a
	// pass was processing it.
	errShowRemoved = errors.New("tvshow removed during pass")
)

// PassResult summarises one tracking pass.
type PassResult struct {
	ID            string `json:"id"`
	TVShows       int    `json:"tvshows"`
	Fetched       int    `json:"fetched"`
	Skipped       int    `json:"skipped"`
	Queued        int    `json:"queued"`
	Known         int    `json:"known"`
	ParseFailures int    `json:"parse_failures"`
	// Aborted is set when the pass stopped early on a connection failure or
	// a full queue; the remaining shows are retried on the next pass.
	Aborted bool `json:"aborted"`
}

// Tracker discovers new episodes.
type Tracker struct {
	source  source.FeedSource
	store   *db.Store
	queue   queue.Queue
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	period  time.Duration
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}

	// passMu serializes passes.
	passMu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics enables metric collection.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a tracker that runs a pass every period once started.
func New(src source.FeedSource, store *db.Store, q queue.Queue, period time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		source: src,
		store:  store,
		queue:  q,
		logger: slog.Default(),
		period: period,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the tracking loop. The first pass runs immediately.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrStopped
	}
	if t.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.run(runCtx)

	t.logger.Info("tracker_started", "period", t.period)
	return nil
}

// Stop interrupts the loop, including a pass in progress, and waits for it
// to exit. Calling Stop more than once is safe.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.running = false
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	t.logger.Info("tracker_stopped")
}

// Period returns the time between passes.
func (t *Tracker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// SetPeriod changes the time between passes. A sleeping loop is woken up so
// the new period is measured from the end of the last pass.
func (t *Tracker) SetPeriod(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid tracking period %s", d)
	}

	t.mu.Lock()
	old := t.period
	t.period = d
	t.mu.Unlock()

	if old != d {
		t.logger.Info("tracker_period_changed", "old_period", old, "period", d)
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	for {
		if _, err := t.RunPass(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("tracker_pass_failed", "error", err)
		}
		if !t.sleep(ctx) {
			return
		}
	}
}

// sleep waits for the next tick. It returns false when ctx is done.
func (t *Tracker) sleep(ctx context.Context) bool {
	start := time.Now()
	for {
		remaining := time.Until(start.Add(t.Period()))
		if remaining <= 0 {
			return ctx.Err() == nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			return ctx.Err() == nil
		case <-t.wake:
			timer.Stop()
		}
	}
}

// RunPass fetches every tracked show once and queues the episodes not seen
// before. Passes never overlap: a call waits for a pass in progress.
//
// Source failures are handled within the pass. A connection failure or a
// full queue ends the pass early with Aborted set; a show the source does not
// know is skipped. Errors returned are store failures or ctx errors.
func (t *Tracker) RunPass(ctx context.Context) (PassResult, error) {
	t.passMu.Lock()
	defer t.passMu.Unlock()

	res := PassResult{ID: uuid.NewString()}
	logger := t.logger.With("pass_id", res.ID)
	start := time.Now()

	res, err := t.runPass(ctx, logger, res)

	elapsed := time.Since(start)
	switch {
	case err != nil:
		t.metrics.pass(resultFailed, elapsed.Seconds())
	case res.Aborted:
		t.metrics.pass(resultAborted, elapsed.Seconds())
	default:
		t.metrics.pass(resultOK, elapsed.Seconds())
	}

	logger.Info("tracker_pass_finished",
		"duration", elapsed,
		"tvshows", res.TVShows,
		"fetched", res.Fetched,
		"skipped", res.Skipped,
		"queued", res.Queued,
		"known", res.Known,
		"parse_failures", res.ParseFailures,
		"aborted", res.Aborted,
	)
	return res, err
}

func (t *Tracker) runPass(ctx context.Context, logger *slog.Logger, res PassResult) (PassResult, error) {
	shows, err := t.TVShows(ctx)
	if err != nil {
		return res, err
	}
	res.TVShows = len(shows)
	logger.Info("tracker_pass_started", "tvshows", len(shows))

	for _, show := range shows {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		files, err := t.source.Fetch(ctx, show.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}

			switch {
			case errors.Is(err, source.ErrNotFound):
				t.metrics.fetchFailed("not_found")
				logger.Warn("tracker_tvshow_not_found", "tvshow_id", show.ID, "error", err)
				res.Skipped++
				continue
			case errors.Is(err, source.ErrMalformedFeed):
				t.metrics.fetchFailed("malformed_feed")
				logger.Warn("tracker_feed_malformed", "tvshow_id", show.ID, "error", err)
				res.Skipped++
				continue
			case errors.Is(err, source.ErrConnection):
				t.metrics.fetchFailed("connection")
			default:
				t.metrics.fetchFailed("unknown")
			}

			logger.Warn("tracker_pass_aborted", "tvshow_id", show.ID, "error", err)
			res.Aborted = true
			return res, nil
		}
		res.Fetched++

		err = t.processShow(ctx, logger, show, files, &res)
		switch {
		case err == nil:
		case errors.Is(err, errShowRemoved):
			logger.Warn("tracker_tvshow_removed", "tvshow_id", show.ID)
			res.Skipped++
		case errors.Is(err, queue.ErrFull):
			logger.Warn("tracker_queue_full", "tvshow_id", show.ID, "queue_len", t.queue.Len())
			res.Aborted = true
			return res, nil
		default:
			return res, err
		}
	}
	return res, nil
}

func (t *Tracker) processShow(ctx context.Context, logger *slog.Logger, show episode.TVShow, files []episode.File, res *PassResult) error {
	// Files in the wanted quality go first so they win when several files
	// are published for the same episode.
	ordered := append([]episode.File(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Quality == show.Quality && ordered[j].Quality != show.Quality
	})

	for _, file := range ordered {
		ep, err := episode.ParseFile(show, file)
		if err != nil {
			t.metrics.parseFailed()
			res.ParseFailures++
			logger.Warn("tracker_file_unparsable", "tvshow_id", show.ID, "title", file.Title, "error", err)
			continue
		}

		queued, err := t.discover(ctx, logger, ep, file)
		if err != nil {
			return err
		}
		if queued {
			t.metrics.episodeQueued()
			res.Queued++
			logger.Info("tracker_episode_queued", "episode", ep.Key().String(), "title", ep.Title, "quality", file.Quality)
		} else {
			res.Known++
		}
	}
	return nil
}

// discover stores ep as queued and pushes it to the queue unless it is
// already known. The existence check, both inserts and the push share one
// write transaction, so concurrent passes queue an episode at most once. A
// failed push rolls the episode back so the next pass discovers it again.
//
// The transaction outlives ctx: once the item is pushed, a stop must not roll
// the episode back, or the queue would hold an item with no stored row.
func (t *Tracker) discover(ctx context.Context, logger *slog.Logger, ep episode.Episode, file episode.File) (bool, error) {
	tx, err := t.store.Begin(context.WithoutCancel(ctx))
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	key := ep.Key()
	exists, err := tx.EpisodeExists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ep.State = episode.StateQueued
	if err := tx.InsertEpisode(ctx, ep); err != nil {
		switch {
		case errors.Is(err, db.ErrEntryExists):
			return false, nil
		case errors.Is(err, db.ErrEntryNotFound):
			return false, fmt.Errorf("%w: %v", errShowRemoved, err)
		}
		return false, err
	}

	if err := tx.InsertFile(ctx, key, file); err != nil {
		if errors.Is(err, db.ErrEntryNotFound) {
			logger.Error("tracker_episode_vanished", "episode", key.String(), "error", err)
			return false, errors.Wrapf(err, "episode %s missing right after insert", key)
		}
		return false, err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := t.queue.Push(ctx, queue.Item{Episode: ep, File: file}); err != nil {
		return false, errors.Wrapf(err, "failed to queue episode %s", key)
	}

	if err := tx.Commit(); err != nil {
		// The item is already queued; the downloader aborts a job whose row
		// is missing, and the next pass queues the episode again.
		logger.Error("tracker_commit_failed", "episode", key.String(), "error", err)
		return false, err
	}
	return true, nil
}

// AddTVShow starts tracking a show. A show without a quality is tracked in
// SD.
func (t *Tracker) AddTVShow(ctx context.Context, show episode.TVShow) error {
	if show.Quality == "" {
		show.Quality = episode.QualitySD
	}
	err := t.store.Update(ctx, func(tx *db.Tx) error {
		return tx.InsertTVShow(ctx, show)
	})
	if err != nil {
		return err
	}
	t.logger.Info("tracker_tvshow_added", "tvshow_id", show.ID, "name", show.Name, "quality", show.Quality)
	return nil
}

// RemoveTVShow stops tracking a show and forgets its episodes. A pass in
// progress may still process the show once.
func (t *Tracker) RemoveTVShow(ctx context.Context, id string) error {
	err := t.store.Update(ctx, func(tx *db.Tx) error {
		return tx.DeleteTVShow(ctx, id)
	})
	if err != nil {
		return err
	}
	t.logger.Info("tracker_tvshow_removed", "tvshow_id", id)
	return nil
}

// SetTVShowQuality changes the quality wanted for a show.
func (t *Tracker) SetTVShowQuality(ctx context.Context, id string, quality episode.Quality) error {
	err := t.store.Update(ctx, func(tx *db.Tx) error {
		return tx.SetTVShowQuality(ctx, id, quality)
	})
	if err != nil {
		return err
	}
	t.logger.Info("tracker_tvshow_quality_changed", "tvshow_id", id, "quality", quality)
	return nil
}

// TVShows lists the tracked shows.
func (t *Tracker) TVShows(ctx context.Context) ([]episode.TVShow, error) {
	var shows []episode.TVShow
	err := t.store.View(ctx, func(tx *db.Tx) error {
		var err error
		shows, err = tx.TVShows(ctx)
		return err
	})
	return shows, err
}

// Episodes lists every known episode with its state.
func (t *Tracker) Episodes(ctx context.Context) ([]episode.Episode, error) {
	var episodes []episode.Episode
	err := t.store.View(ctx, func(tx *db.Tx) error {
		var err error
		episodes, err = tx.Episodes(ctx, true)
		return err
	})
	return episodes, err
}

// EpisodesFor lists the episodes of one show. It fails with
// db.ErrEntryNotFound if the show is not tracked.
func (t *Tracker) EpisodesFor(ctx context.Context, tvshowID string) ([]episode.Episode, error) {
	var episodes []episode.Episode
	err := t.store.View(ctx, func(tx *db.Tx) error {
		if _, err := tx.TVShow(ctx, tvshowID); err != nil {
			return err
		}
		var err error
		episodes, err = tx.EpisodesFor(ctx, tvshowID)
		return err
	})
	return episodes, err
}
