package db

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Entry errors. They are returned wrapped with the offending key, so test
// for them with errors.Is.
var (
	// ErrEntryExists indicates a uniqueness violation.
	ErrEntryExists = errors.New("entry already exists")

	// ErrEntryNotFound indicates a missing row or a dangling reference.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrStateRegression indicates an attempt to move an episode back to an
	// earlier lifecycle state.
	ErrStateRegression = errors.New("episode state cannot regress")
)

// classify maps a storage engine error to an entry error. It returns nil for
// errors that are not constraint violations; those must be propagated as is.
func classify(err error) error {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return nil
	}

	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ErrEntryExists
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrEntryNotFound
	}

	// Connections opened without extended result codes only report the
	// primary code.
	if serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := serr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return ErrEntryExists
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return ErrEntryNotFound
		}
	}

	return nil
}
