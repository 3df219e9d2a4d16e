package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tveebot/tracker/pkg/errors"
)

var bucketItems = []byte("items")

// Bolt is a queue persisted in a bbolt file, so items pushed before a crash
// are still delivered after a restart.
type Bolt struct {
	db     *bolt.DB
	logger *slog.Logger

	// notify holds a pending wake-up for blocked consumers.
	notify chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

var (
	_ Queue  = (*Bolt)(nil)
	_ Lister = (*Bolt)(nil)
)

// BoltOption configures a Bolt queue.
type BoltOption func(*Bolt)

// WithLogger sets the logger of a Bolt queue.
func WithLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) { b.logger = logger }
}

// OpenBolt opens, creating it if needed, the queue file at path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create queue directory")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open queue %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketItems)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create queue bucket")
	}

	b := &Bolt{
		db:     db,
		logger: slog.Default(),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if n := b.Len(); n > 0 {
		b.logger.Info("queue_recovered", "path", path, "items", n)
		b.wake()
	}
	return b, nil
}

// Push appends item durably.
func (b *Bolt) Push(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	value, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue item")
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketItems)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), value)
	})
	if err != nil {
		return errors.Wrap(err, "failed to push queue item")
	}

	b.logger.Debug("queue_item_pushed", "episode", item.Episode.Key().String())
	b.wake()
	return nil
}

// Pop removes the oldest item, waiting for one if the queue is empty.
func (b *Bolt) Pop(ctx context.Context) (Item, error) {
	for {
		select {
		case <-b.closed:
			return Item{}, ErrClosed
		default:
		}

		item, ok, err := b.popFirst()
		if err != nil {
			return Item{}, err
		}
		if ok {
			return item, nil
		}

		select {
		case <-b.notify:
		case <-b.closed:
			return Item{}, ErrClosed
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

func (b *Bolt) popFirst() (Item, bool, error) {
	var item Item
	var found, more bool

	err := b.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketItems).Cursor()
		key, value := cursor.First()
		if key == nil {
			return nil
		}
		decodeErr := json.Unmarshal(value, &item)
		if err := cursor.Delete(); err != nil {
			return err
		}
		if decodeErr != nil {
			// Unreadable items are dropped so they cannot wedge the queue.
			b.logger.Error("queue_item_corrupt", "seq", binary.BigEndian.Uint64(key), "error", decodeErr)
		} else {
			found = true
		}
		next, _ := cursor.First()
		more = next != nil
		return nil
	})
	if err != nil {
		return Item{}, false, errors.Wrap(err, "failed to pop queue item")
	}

	// Pass the wake-up on to the next consumer.
	if more {
		b.wake()
	}
	return item, found, nil
}

// Len returns the number of stored items.
func (b *Bolt) Len() int {
	n := 0
	_ = b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketItems).Stats().KeyN
		return nil
	})
	return n
}

// Items returns the stored items in push order without removing them.
func (b *Bolt) Items() ([]Item, error) {
	var items []Item
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(_, value []byte) error {
			var item Item
			if err := json.Unmarshal(value, &item); err != nil {
				return nil
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list queue items")
	}
	return items, nil
}

// Close wakes blocked consumers and closes the file. Stored items are kept
// for the next OpenBolt.
func (b *Bolt) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.db.Close()
	})
	return err
}

func (b *Bolt) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
