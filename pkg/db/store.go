// Package db persists tracked TV shows, their episodes and episode files in
// SQLite.
//
// Every operation runs inside a caller-scoped transaction (Tx) that must be
// committed or rolled back explicitly. Uniqueness violations surface as
// ErrEntryExists and dangling references or missing rows as
// ErrEntryNotFound; any other storage engine error is returned unchanged.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/tveebot/tracker/pkg/errors"
	_ "modernc.org/sqlite"
)

// BusyTimeout is how long a connection waits for the write lock held by
// another transaction or process before failing with SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// Store is the episode store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// dsn builds the connection string. Pragmas are applied by the driver to
// every pooled connection, and immediate transactions take the write lock at
// BEGIN so a read-then-write transaction cannot be invalidated by a
// concurrent writer.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path and creates the schema if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(nil, opts...)
	s.logger.Info("database_init", "db_path", path)

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		s.logger.Error("database_open_failed", "db_path", path, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}
	s.db = db

	if err := s.Init(ctx); err != nil {
		db.Close()
		s.logger.Error("database_schema_failed", "db_path", path, "error", err)
		return nil, err
	}

	s.logger.Info("database_ready", "db_path", path)
	return s, nil
}

// New wraps an already opened database handle. The schema is not created;
// call Init for that.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the schema. It is safe to call on a populated database.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("database_begin_failed", "error", err)
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return &Tx{tx: tx, logger: s.logger}, nil
}

// Update runs fn in a transaction that is committed when fn returns nil and
// rolled back otherwise.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

// Tx is a store transaction. Effects are invisible to other transactions
// until Commit.
type Tx struct {
	tx     *sql.Tx
	logger *slog.Logger
	done   bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		t.logger.Error("database_commit_failed", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit or Rollback,
// so it can be deferred unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	// database/sql rolls back on its own when the context is cancelled.
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.Error("database_rollback_failed", "error", err)
		return errors.Wrap(err, "failed to roll back transaction")
	}
	return nil
}

// rowsAffected returns ErrEntryNotFound when the statement touched no rows.
func rowsAffected(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, what)
	}
	return nil
}

// entryError wraps an entry error with what it concerns, or returns err
// unchanged if it is not a constraint violation.
func entryError(err error, what string) error {
	if kind := classify(err); kind != nil {
		return fmt.Errorf("%w: %s", kind, what)
	}
	return err
}
