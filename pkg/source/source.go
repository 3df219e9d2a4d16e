// Package source defines the boundary between the tracker and the feeds that
// publish episode files.
package source

import (
	"context"
	"errors"

	"github.com/tveebot/tracker/pkg/episode"
)

// Fetch failures. Implementations wrap one of these so callers can tell them
// apart with errors.Is.
var (
	// ErrNotFound indicates the show reference does not match any show
	// available at the source.
	ErrNotFound = errors.New("tvshow not found at source")

	// ErrConnection indicates the source could not be reached.
	ErrConnection = errors.New("connection to source failed")

	// ErrMalformedFeed indicates the source answered with a feed that could
	// not be understood.
	ErrMalformedFeed = errors.New("malformed feed")
)

// FeedSource supplies the episode files published for a show. Multiple files
// for the same episode may be returned; an empty slice means nothing is
// published.
type FeedSource interface {
	Fetch(ctx context.Context, showRef string) ([]episode.File, error)
}

// Func adapts a function to FeedSource.
type Func func(ctx context.Context, showRef string) ([]episode.File, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, showRef string) ([]episode.File, error) {
	return f(ctx, showRef)
}
