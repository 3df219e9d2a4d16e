package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tveebot/tracker/pkg/errors"
)

// HTTPClient downloads http and https links.
type HTTPClient struct {
	client *http.Client
	logger *slog.Logger
}

var _ Fetcher = (*HTTPClient)(nil)

// NewHTTPClient wraps client. A nil client selects http.DefaultClient.
func NewHTTPClient(client *http.Client, logger *slog.Logger) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{client: client, logger: logger}
}

// Download fetches link into localPath.
func (c *HTTPClient) Download(ctx context.Context, link, localPath string) (*DownloadResult, error) {
	c.logger.Info("http_download_start", "link", link)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("http_request_failed", "link", link, "error", err)
		return nil, errors.Wrap(err, "failed to request file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("http_download_rejected", "link", link, "status", resp.StatusCode)
		return nil, fmt.Errorf("download of %s returned status %d", link, resp.StatusCode)
	}

	res, err := writeFile(localPath, resp.Body)
	if err != nil {
		c.logger.Error("http_download_failed", "link", link, "error", err)
		return nil, err
	}

	c.logger.Info("http_download_complete", "link", link, "size_mb", res.Size/1024/1024, "local_path", localPath)
	return res, nil
}
