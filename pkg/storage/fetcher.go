// Package storage transfers episode files to the local download directory.
// The link published by the feed selects the backend.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/tveebot/tracker/pkg/errors"
)

// ErrUnsupportedLink is returned for links no backend can transfer, such as
// magnet links.
var ErrUnsupportedLink = errors.New("unsupported link")

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Fetcher downloads the file behind a link.
type Fetcher interface {
	Download(ctx context.Context, link, localPath string) (*DownloadResult, error)
}

// Router dispatches links to a fetcher by URL scheme.
type Router struct {
	fetchers map[string]Fetcher
}

var _ Fetcher = (*Router)(nil)

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{fetchers: map[string]Fetcher{}}
}

// Handle registers f for the given schemes.
func (r *Router) Handle(f Fetcher, schemes ...string) *Router {
	for _, scheme := range schemes {
		r.fetchers[strings.ToLower(scheme)] = f
	}
	return r
}

// Download forwards to the fetcher registered for the link's scheme.
func (r *Router) Download(ctx context.Context, link, localPath string) (*DownloadResult, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedLink, "invalid link %q: %v", link, err)
	}
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedLink, "no fetcher for scheme %q", u.Scheme)
	}
	return f.Download(ctx, link, localPath)
}

// writeFile stores r at localPath and computes its SHA256. A partial file is
// removed on failure.
func writeFile(localPath string, r io.Reader) (*DownloadResult, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local file")
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(localPath)
		return nil, errors.Wrap(err, "failed to download file")
	}

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		Size:      size,
	}, nil
}
