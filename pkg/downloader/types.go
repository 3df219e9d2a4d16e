package downloader

import "github.com/tveebot/tracker/pkg/episode"

// DownloadRequest is the FSM input
type DownloadRequest struct {
	JobID   string
	Episode episode.Episode
	File    episode.File
	// Resume lets the job take over an episode left DOWNLOADING by an
	// earlier run. Other jobs skip episodes that are already claimed.
	Resume bool
}

// DownloadResponse is the FSM output (accumulated across transitions)
type DownloadResponse struct {
	// From Transfer
	LocalPath string
	SHA256    string
	Size      int64

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// Response statuses
const (
	StatusDownloading = "downloading"
	StatusSkipped     = "skipped"
	StatusDownloaded  = "downloaded"
)

// State names
const (
	StateMarkDownloading = "mark_downloading"
	StateTransfer        = "transfer"
	StateComplete        = "complete"
	StateFailed          = "failed"
)
