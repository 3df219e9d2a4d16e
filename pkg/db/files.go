package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
)

// InsertFile associates the file to download with an episode. Only one file
// is tracked per episode: a second one fails with ErrEntryExists. The
// episode must exist.
func (t *Tx) InsertFile(ctx context.Context, key episode.Key, file episode.File) error {
	if !file.Quality.Valid() {
		return fmt.Errorf("invalid quality %q for file of episode %s", file.Quality, key)
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO files (tvshow_id, season, number, title, link, quality, downloaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.TVShowID, key.Season, key.Number, file.Title, file.Link, string(file.Quality),
		nullableTime(file.DownloadedAt))
	if err != nil {
		t.logger.Debug("database_insert_file_failed", "episode", key.String(), "error", err)
		return entryError(err, fmt.Sprintf("file of episode %s", key))
	}

	t.logger.Debug("database_file_inserted", "episode", key.String(), "quality", file.Quality)
	return nil
}

// FileFor returns the file tracked for an episode.
func (t *Tx) FileFor(ctx context.Context, key episode.Key) (episode.File, error) {
	var file episode.File
	var quality string
	var downloadedAt sql.NullString

	err := t.tx.QueryRowContext(ctx,
		`SELECT title, link, quality, downloaded_at FROM files
		 WHERE tvshow_id = ? AND season = ? AND number = ?`,
		key.TVShowID, key.Season, key.Number).Scan(&file.Title, &file.Link, &quality, &downloadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return episode.File{}, fmt.Errorf("%w: file of episode %s", ErrEntryNotFound, key)
	}
	if err != nil {
		return episode.File{}, err
	}

	file.Quality = episode.Quality(quality)
	if downloadedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, downloadedAt.String)
		if err != nil {
			return episode.File{}, errors.Wrapf(err, "invalid download timestamp for episode %s", key)
		}
		file.DownloadedAt = &ts
	}
	return file, nil
}

// SetFileQuality records the quality of the file that was actually
// downloaded.
func (t *Tx) SetFileQuality(ctx context.Context, key episode.Key, quality episode.Quality) error {
	if !quality.Valid() {
		return fmt.Errorf("invalid quality %q for file of episode %s", quality, key)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE files SET quality = ? WHERE tvshow_id = ? AND season = ? AND number = ?`,
		string(quality), key.TVShowID, key.Season, key.Number)
	if err != nil {
		return entryError(err, fmt.Sprintf("file of episode %s", key))
	}
	return rowsAffected(res, fmt.Sprintf("file of episode %s", key))
}

// SetDownloadTimestamp records when the file of an episode finished
// downloading. It fails with ErrEntryNotFound if no file is tracked for the
// episode.
func (t *Tx) SetDownloadTimestamp(ctx context.Context, key episode.Key, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE files SET downloaded_at = ? WHERE tvshow_id = ? AND season = ? AND number = ?`,
		at.UTC().Format(time.RFC3339Nano), key.TVShowID, key.Season, key.Number)
	if err != nil {
		return entryError(err, fmt.Sprintf("file of episode %s", key))
	}
	if err := rowsAffected(res, fmt.Sprintf("file of episode %s", key)); err != nil {
		return err
	}

	t.logger.Debug("database_download_timestamp_set", "episode", key.String(), "downloaded_at", at)
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
