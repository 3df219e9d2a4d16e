// Package queue holds the handoff between the tracker, which discovers
// episodes, and the downloader, which consumes them.
//
// Items are delivered in push order and each pushed item is popped exactly
// once.
package queue

import (
	"context"
	"errors"

	"github.com/tveebot/tracker/pkg/episode"
)

var (
	// ErrFull is returned by Push when the queue stayed full for the whole
	// enqueue timeout.
	ErrFull = errors.New("queue is full")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue is closed")
)

// Item is one episode handed to the downloader together with the file that
// should be fetched for it.
type Item struct {
	Episode episode.Episode `json:"episode"`
	File    episode.File    `json:"file"`
}

// Queue is a FIFO of download items shared by concurrent producers and
// consumers.
type Queue interface {
	// Push appends item. It fails without enqueuing anything when the item
	// could not be accepted.
	Push(ctx context.Context, item Item) error
	// Pop blocks until an item is available, ctx is done or the queue is
	// closed.
	Pop(ctx context.Context) (Item, error)
	Len() int
	Close() error
}

// Lister is implemented by queues whose pending items can be inspected
// without consuming them.
type Lister interface {
	Items() ([]Item, error)
}
