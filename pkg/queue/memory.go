package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is a bounded in-process queue. Its content is lost when the process
// exits.
type Memory struct {
	items   chan Item
	timeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Queue = (*Memory)(nil)

// NewMemory creates a queue holding at most capacity items. Push waits up to
// timeout for room before failing with ErrFull; a zero timeout fails at once.
func NewMemory(capacity int, timeout time.Duration) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		items:   make(chan Item, capacity),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// Push appends item.
func (m *Memory) Push(ctx context.Context, item Item) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	select {
	case m.items <- item:
		return nil
	default:
	}
	if m.timeout <= 0 {
		return ErrFull
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case m.items <- item:
		return nil
	case <-timer.C:
		return ErrFull
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest item. Items still buffered when the queue is closed
// are drained before ErrClosed is returned.
func (m *Memory) Pop(ctx context.Context) (Item, error) {
	select {
	case item := <-m.items:
		return item, nil
	default:
	}

	select {
	case item := <-m.items:
		return item, nil
	case <-m.closed:
		select {
		case item := <-m.items:
			return item, nil
		default:
			return Item{}, ErrClosed
		}
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (m *Memory) Len() int {
	return len(m.items)
}

// Close wakes blocked callers. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
