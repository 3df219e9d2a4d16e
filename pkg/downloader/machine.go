// Package downloader consumes the handoff queue and transfers each episode
// file with a superfly/fsm workflow, recording progress in the episode store.
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/superfly/fsm"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/security"
	"github.com/tveebot/tracker/pkg/storage"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	store       *db.Store
	fetcher     storage.Fetcher
	validator   *security.Validator
	downloadDir string
	maxRetries  int
	logger      *slog.Logger
	now         func() time.Time
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	store *db.Store,
	fetcher storage.Fetcher,
	validator *security.Validator,
	downloadDir string,
	maxRetries int,
	logger *slog.Logger,
) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:       store,
		fetcher:     fetcher,
		validator:   validator,
		downloadDir: downloadDir,
		maxRetries:  maxRetries,
		logger:      logger,
		now:         time.Now,
	}
}

// Register registers the download FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[DownloadRequest, DownloadResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[DownloadRequest, DownloadResponse](manager, "episode-download").
		Start(StateMarkDownloading, m.handleMarkDownloading).
		To(StateTransfer, m.handleTransfer).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// begin enforces the retry limit and returns the accumulated response.
func (m *Machine) begin(ctx context.Context, state string, req *fsm.Request[DownloadRequest, DownloadResponse]) (*DownloadResponse, error) {
	key := req.Msg.Episode.Key().String()
	m.logger.Info("fsm_state_"+state, "job_id", req.Msg.JobID, "episode", key)

	if retryCount := fsm.RetryFromContext(ctx); retryCount > uint64(m.maxRetries) {
		m.logger.Error("max_retries_exceeded", "job_id", req.Msg.JobID, "episode", key, "state", state, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &DownloadResponse{}
	}
	return resp, nil
}

// handleMarkDownloading claims the episode by moving it from QUEUED to
// DOWNLOADING. Episodes already downloaded, or claimed by another job, are
// skipped by the following states.
func (m *Machine) handleMarkDownloading(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	resp, err := m.begin(ctx, StateMarkDownloading, req)
	if err != nil {
		return nil, err
	}

	key := req.Msg.Episode.Key()
	var current episode.State
	err = m.store.Update(ctx, func(tx *db.Tx) error {
		var err error
		current, err = tx.EpisodeState(ctx, key)
		if err != nil {
			return err
		}
		switch {
		case current == episode.StateDownloaded:
			return nil
		case current == episode.StateDownloading && !req.Msg.Resume:
			return nil
		}
		return tx.SetEpisodeState(ctx, key, episode.StateDownloading)
	})
	switch {
	case err == nil && current == episode.StateDownloaded:
		m.logger.Info("episode_already_downloaded", "job_id", req.Msg.JobID, "episode", key.String())
		resp.Status = StatusSkipped
	case err == nil && current == episode.StateDownloading && !req.Msg.Resume:
		m.logger.Info("episode_already_claimed", "job_id", req.Msg.JobID, "episode", key.String())
		resp.Status = StatusSkipped
	case err == nil:
		resp.Status = StatusDownloading
	case errors.Is(err, db.ErrStateRegression):
		m.logger.Info("episode_already_downloaded", "job_id", req.Msg.JobID, "episode", key.String())
		resp.Status = StatusSkipped
	case errors.Is(err, db.ErrEntryNotFound):
		// The show was removed, or the discovering pass never committed.
		m.logger.Warn("episode_not_tracked", "job_id", req.Msg.JobID, "episode", key.String())
		return nil, fsm.Abort(err)
	default:
		m.logger.Error("status_update_failed", "job_id", req.Msg.JobID, "episode", key.String(), "error", err)
		return nil, errors.Wrap(err, "failed to update state")
	}

	return fsm.NewResponse(resp), nil
}

// handleTransfer downloads the episode file into the download directory
func (m *Machine) handleTransfer(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	resp, err := m.begin(ctx, StateTransfer, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusSkipped {
		return fsm.NewResponse(resp), nil
	}

	file := req.Msg.File
	key := req.Msg.Episode.Key().String()

	if err := os.MkdirAll(m.downloadDir, 0o755); err != nil {
		m.logger.Error("download_dir_creation_failed", "path", m.downloadDir, "error", err)
		return nil, errors.Wrap(err, "failed to create download dir")
	}

	localPath, err := m.validator.DestinationPath(m.downloadDir, file.Title, linkExt(file.Link))
	if err != nil {
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	m.logger.Info("download_started", "job_id", req.Msg.JobID, "episode", key, "local_path", localPath)

	result, err := m.fetcher.Download(ctx, file.Link, localPath)
	if err != nil {
		m.logger.Error("download_failed", "job_id", req.Msg.JobID, "episode", key, "error", err)
		if errors.Is(err, storage.ErrUnsupportedLink) {
			resp.ErrorMessage = err.Error()
			return nil, fsm.Abort(err)
		}
		return nil, errors.Wrap(err, "failed to download episode file")
	}

	if err := m.validator.ValidateFileSize(result.Size); err != nil {
		os.Remove(result.LocalPath)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}
	if err := m.validator.AddDownloadedSize(result.Size); err != nil {
		os.Remove(result.LocalPath)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	resp.LocalPath = result.LocalPath
	resp.SHA256 = result.SHA256
	resp.Size = result.Size

	m.logger.Info("download_complete",
		"job_id", req.Msg.JobID,
		"episode", key,
		"size_mb", result.Size/1024/1024,
		"sha256", result.SHA256,
	)

	return fsm.NewResponse(resp), nil
}

// handleComplete records the download in the store
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	resp, err := m.begin(ctx, StateComplete, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusSkipped {
		return fsm.NewResponse(resp), nil
	}

	key := req.Msg.Episode.Key()
	err = m.store.Update(ctx, func(tx *db.Tx) error {
		if err := tx.SetEpisodeState(ctx, key, episode.StateDownloaded); err != nil {
			return err
		}
		if err := tx.SetFileQuality(ctx, key, req.Msg.File.Quality); err != nil {
			return err
		}
		return tx.SetDownloadTimestamp(ctx, key, m.now())
	})
	if errors.Is(err, db.ErrEntryNotFound) {
		m.logger.Warn("episode_not_tracked", "job_id", req.Msg.JobID, "episode", key.String())
		return nil, fsm.Abort(err)
	}
	if err != nil {
		m.logger.Error("status_update_failed", "job_id", req.Msg.JobID, "episode", key.String(), "error", err)
		return nil, errors.Wrap(err, "failed to record download")
	}

	resp.Status = StatusDownloaded
	m.logger.Info("fsm_complete", "job_id", req.Msg.JobID, "episode", key.String(), "status", resp.Status)

	return fsm.NewResponse(resp), nil
}

// linkExt returns the file extension of the link's path, if it looks like
// one.
func linkExt(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
