package tracker

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/queue"
	"github.com/tveebot/tracker/pkg/source"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSource serves canned feeds and records which shows were fetched.
type fakeSource struct {
	mu     sync.Mutex
	feeds  map[string][]episode.File
	errs   map[string]error
	calls  []string
	before func(ctx context.Context, ref string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{feeds: map[string][]episode.File{}, errs: map[string]error{}}
}

func (f *fakeSource) Fetch(ctx context.Context, ref string) ([]episode.File, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	before := f.before
	err := f.errs[ref]
	files := append([]episode.File(nil), f.feeds[ref]...)
	f.mu.Unlock()

	if before != nil {
		before(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (f *fakeSource) set(ref string, files []episode.File, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[ref] = files
	f.errs[ref] = err
}

func (f *fakeSource) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func openStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "tracker.db"), db.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func hd(title string) episode.File {
	return episode.File{Title: title, Link: "magnet:" + title, Quality: episode.QualityHD}
}

func sd(title string) episode.File {
	return episode.File{Title: title, Link: "magnet:" + title, Quality: episode.QualitySD}
}

func newTracker(t *testing.T, src source.FeedSource, q queue.Queue, shows ...episode.TVShow) (*Tracker, *db.Store) {
	t.Helper()
	store := openStore(t)
	tr := New(src, store, q, time.Hour, WithLogger(discard))
	for _, show := range shows {
		require.NoError(t, tr.AddTVShow(context.Background(), show))
	}
	return tr, store
}

var (
	prisonBreak = episode.TVShow{ID: "1", Name: "Prison Break", Quality: episode.QualityHD}
	lost        = episode.TVShow{ID: "2", Name: "Lost", Quality: episode.QualitySD}
)

func TestRunPassIsIdempotent(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{
		hd("Prison Break 5x09"),
		sd("Prison Break 5x10 PROPER"),
		sd("Prison Break trailer"),
	}, nil)

	q := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, q, prisonBreak)
	ctx := context.Background()

	res, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, 1, res.ParseFailures)
	assert.Equal(t, 2, q.Len())

	episodes, err := tr.EpisodesFor(ctx, "1")
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	for _, ep := range episodes {
		assert.Equal(t, episode.StateQueued, ep.State)
	}

	res, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Queued)
	assert.Equal(t, 2, res.Known)
	assert.Equal(t, 2, q.Len(), "known episodes must not be queued again")

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, episode.Key{TVShowID: "1", Season: 5, Number: 9}, first.Episode.Key())
	assert.Equal(t, "Prison Break", first.Episode.TVShow.Name)
	assert.Equal(t, episode.StateQueued, first.Episode.State)
}

func TestRunPassConnectionFailureAbortsPass(t *testing.T) {
	src := newFakeSource()
	src.set("1", nil, source.ErrConnection)
	src.set("2", []episode.File{sd("Lost 1x01 Pilot")}, nil)

	q := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, q, prisonBreak, lost)
	ctx := context.Background()

	res, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, []string{"1"}, src.fetched(), "shows after the failure must not be fetched")
	assert.Equal(t, 0, q.Len())

	src.reset()
	src.set("1", []episode.File{hd("Prison Break 5x09")}, nil)

	res, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, []string{"1", "2"}, src.fetched())
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, 2, q.Len())
}

func TestRunPassSkipsUnavailableShows(t *testing.T) {
	for name, fetchErr := range map[string]error{
		"not found": source.ErrNotFound,
		"malformed": source.ErrMalformedFeed,
	} {
		t.Run(name, func(t *testing.T) {
			src := newFakeSource()
			src.set("1", nil, fetchErr)
			src.set("2", []episode.File{sd("Lost 1x01 Pilot")}, nil)

			q := queue.NewMemory(10, 0)
			tr, _ := newTracker(t, src, q, prisonBreak, lost)

			res, err := tr.RunPass(context.Background())
			require.NoError(t, err)
			assert.False(t, res.Aborted)
			assert.Equal(t, 1, res.Skipped)
			assert.Equal(t, 1, res.Queued)
			assert.Equal(t, []string{"1", "2"}, src.fetched())
		})
	}
}

func TestRunPassPrefersWantedQuality(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{sd("Prison Break 5x09"), hd("Prison Break 5x09")}, nil)

	q := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, q, prisonBreak)

	res, err := tr.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, 1, res.Known)

	item, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, episode.QualityHD, item.File.Quality)
}

func TestRunPassKeepsFeedOrder(t *testing.T) {
	files := []episode.File{sd("Prison Break 5x09"), hd("Prison Break 5x10"), sd("Prison Break 5x11")}
	src := source.Func(func(context.Context, string) ([]episode.File, error) {
		return files, nil
	})

	q := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, q, prisonBreak)

	res, err := tr.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Queued)
	assert.Equal(t, []episode.File{sd("Prison Break 5x09"), hd("Prison Break 5x10"), sd("Prison Break 5x11")}, files)
}

// stopOnPush cancels the pass right after an item was accepted.
type stopOnPush struct {
	queue.Queue
	cancel context.CancelFunc
}

func (s *stopOnPush) Push(ctx context.Context, item queue.Item) error {
	if err := s.Queue.Push(ctx, item); err != nil {
		return err
	}
	s.cancel()
	return nil
}

func TestStopAfterPushKeepsEpisode(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{hd("Prison Break 5x09")}, nil)
	src.set("2", []episode.File{sd("Lost 1x01")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, &stopOnPush{Queue: inner, cancel: cancel}, prisonBreak, lost)

	_, err := tr.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.Len())

	episodes, err := tr.Episodes(context.Background())
	require.NoError(t, err)
	require.Len(t, episodes, 1, "a pushed episode must be committed")
	assert.Equal(t, episode.StateQueued, episodes[0].State)

	item, err := inner.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, episodes[0].Key(), item.Episode.Key())
}

func TestRunPassRollsBackWhenQueueIsFull(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{hd("Prison Break 5x09")}, nil)

	q := queue.NewMemory(1, 0)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, queue.Item{}))

	tr, _ := newTracker(t, src, q, prisonBreak)

	res, err := tr.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, 0, res.Queued)

	episodes, err := tr.Episodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, episodes, "episode must not be stored when it could not be queued")

	_, err = q.Pop(ctx)
	require.NoError(t, err)

	res, err = tr.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
}

func TestRunPassShowRemovedMidPass(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{hd("Prison Break 5x09")}, nil)
	src.set("2", []episode.File{sd("Lost 1x01")}, nil)

	q := queue.NewMemory(10, 0)
	tr, _ := newTracker(t, src, q, prisonBreak, lost)
	src.before = func(ctx context.Context, ref string) {
		if ref == "1" {
			require.NoError(t, tr.RemoveTVShow(ctx, "1"))
		}
	}

	res, err := tr.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Queued)

	episodes, err := tr.Episodes(context.Background())
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "2", episodes[0].TVShow.ID)
}

func TestConcurrentPassesQueueOnce(t *testing.T) {
	src := newFakeSource()
	var files []episode.File
	for _, title := range []string{"Prison Break 5x01", "Prison Break 5x02", "Prison Break 5x03", "Prison Break 5x04"} {
		files = append(files, hd(title))
	}
	src.set("1", files, nil)

	q := queue.NewMemory(64, time.Second)
	first, store := newTracker(t, src, q, prisonBreak)
	second := New(src, store, q, time.Hour, WithLogger(discard))

	var wg sync.WaitGroup
	for _, tr := range []*Tracker{first, second, first, second} {
		wg.Add(1)
		go func(tr *Tracker) {
			defer wg.Done()
			_, err := tr.RunPass(context.Background())
			assert.NoError(t, err)
		}(tr)
	}
	wg.Wait()

	assert.Equal(t, len(files), q.Len())
}

func TestRunPassPropagatesStoreErrors(t *testing.T) {
	src := newFakeSource()
	tr, store := newTracker(t, src, queue.NewMemory(1, 0), prisonBreak)
	require.NoError(t, store.Close())

	_, err := tr.RunPass(context.Background())
	assert.Error(t, err)
}

func TestRunPassMetrics(t *testing.T) {
	src := newFakeSource()
	src.set("1", []episode.File{hd("Prison Break 5x09"), hd("garbage")}, nil)
	src.set("2", nil, source.ErrNotFound)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := openStore(t)
	tr := New(src, store, queue.NewMemory(10, 0), time.Hour, WithLogger(discard), WithMetrics(metrics))
	require.NoError(t, tr.AddTVShow(context.Background(), prisonBreak))
	require.NoError(t, tr.AddTVShow(context.Background(), lost))

	_, err := tr.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.passes.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queued))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.parseFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetchFailures.WithLabelValues("not_found")))
}

func TestStartStop(t *testing.T) {
	passes := make(chan string, 10)
	src := newFakeSource()
	src.before = func(ctx context.Context, ref string) { passes <- ref }

	tr, _ := newTracker(t, src, queue.NewMemory(10, 0), prisonBreak)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	assert.ErrorIs(t, tr.Start(ctx), ErrAlreadyRunning)

	select {
	case <-passes:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass did not run on start")
	}

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not interrupt the sleep")
	}

	tr.Stop()
	assert.ErrorIs(t, tr.Start(ctx), ErrStopped)
	assert.Len(t, passes, 0, "no pass may start after stop")
}

func TestStopInterruptsFetch(t *testing.T) {
	entered := make(chan struct{})
	src := newFakeSource()
	src.before = func(ctx context.Context, ref string) {
		close(entered)
		<-ctx.Done()
	}
	src.set("1", nil, source.ErrConnection)

	tr, _ := newTracker(t, src, queue.NewMemory(10, 0), prisonBreak)
	require.NoError(t, tr.Start(context.Background()))
	<-entered

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not interrupt the fetch in progress")
	}
}

func TestSetPeriodWakesLoop(t *testing.T) {
	passes := make(chan string, 100)
	src := newFakeSource()
	src.before = func(ctx context.Context, ref string) {
		select {
		case passes <- ref:
		default:
		}
	}

	tr, _ := newTracker(t, src, queue.NewMemory(10, 0), prisonBreak)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	<-passes
	require.NoError(t, tr.SetPeriod(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, tr.Period())

	select {
	case <-passes:
	case <-time.After(5 * time.Second):
		t.Fatal("shorter period did not trigger a pass")
	}

	assert.Error(t, tr.SetPeriod(0))
}

func TestAdminOperations(t *testing.T) {
	tr, _ := newTracker(t, newFakeSource(), queue.NewMemory(1, 0))
	ctx := context.Background()

	require.NoError(t, tr.AddTVShow(ctx, episode.TVShow{ID: "7", Name: "Dexter"}))
	assert.ErrorIs(t, tr.AddTVShow(ctx, episode.TVShow{ID: "7", Name: "Dexter"}), db.ErrEntryExists)

	shows, err := tr.TVShows(ctx)
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.Equal(t, episode.QualitySD, shows[0].Quality)

	require.NoError(t, tr.SetTVShowQuality(ctx, "7", episode.QualityFHD))
	shows, err = tr.TVShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, episode.QualityFHD, shows[0].Quality)

	_, err = tr.EpisodesFor(ctx, "8")
	assert.ErrorIs(t, err, db.ErrEntryNotFound)

	require.NoError(t, tr.RemoveTVShow(ctx, "7"))
	assert.ErrorIs(t, tr.RemoveTVShow(ctx, "7"), db.ErrEntryNotFound)
}
