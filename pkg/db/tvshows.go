package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
)

// InsertTVShow adds a show to the store. It fails with ErrEntryExists if a
// show with the same ID is already tracked.
func (t *Tx) InsertTVShow(ctx context.Context, show episode.TVShow) error {
	if !show.Quality.Valid() {
		return fmt.Errorf("invalid quality %q for tvshow %q", show.Quality, show.ID)
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tvshows (id, name, quality) VALUES (?, ?, ?)`,
		show.ID, show.Name, string(show.Quality))
	if err != nil {
		t.logger.Debug("database_insert_tvshow_failed", "tvshow_id", show.ID, "error", err)
		return entryError(err, fmt.Sprintf("tvshow %q", show.ID))
	}

	t.logger.Debug("database_tvshow_inserted", "tvshow_id", show.ID, "quality", show.Quality)
	return nil
}

// DeleteTVShow removes a show together with its episodes and files.
func (t *Tx) DeleteTVShow(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tvshows WHERE id = ?`, id)
	if err != nil {
		t.logger.Debug("database_delete_tvshow_failed", "tvshow_id", id, "error", err)
		return entryError(err, fmt.Sprintf("tvshow %q", id))
	}
	if err := rowsAffected(res, fmt.Sprintf("tvshow %q", id)); err != nil {
		return err
	}

	t.logger.Debug("database_tvshow_deleted", "tvshow_id", id)
	return nil
}

// TVShows lists every tracked show ordered by ID.
func (t *Tx) TVShows(ctx context.Context) ([]episode.TVShow, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, name, quality FROM tvshows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shows []episode.TVShow
	for rows.Next() {
		var show episode.TVShow
		var quality string
		if err := rows.Scan(&show.ID, &show.Name, &quality); err != nil {
			return nil, errors.Wrap(err, "failed to scan tvshow")
		}
		show.Quality = episode.Quality(quality)
		shows = append(shows, show)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shows, nil
}

// TVShow fetches a single show.
func (t *Tx) TVShow(ctx context.Context, id string) (episode.TVShow, error) {
	show := episode.TVShow{ID: id}
	var quality string
	err := t.tx.QueryRowContext(ctx, `SELECT name, quality FROM tvshows WHERE id = ?`, id).
		Scan(&show.Name, &quality)
	if errors.Is(err, sql.ErrNoRows) {
		return episode.TVShow{}, fmt.Errorf("%w: tvshow %q", ErrEntryNotFound, id)
	}
	if err != nil {
		return episode.TVShow{}, err
	}
	show.Quality = episode.Quality(quality)
	return show, nil
}

// SetTVShowQuality changes the quality wanted for a show.
func (t *Tx) SetTVShowQuality(ctx context.Context, id string, quality episode.Quality) error {
	if !quality.Valid() {
		return fmt.Errorf("invalid quality %q for tvshow %q", quality, id)
	}

	res, err := t.tx.ExecContext(ctx, `UPDATE tvshows SET quality = ? WHERE id = ?`, string(quality), id)
	if err != nil {
		return entryError(err, fmt.Sprintf("tvshow %q", id))
	}
	return rowsAffected(res, fmt.Sprintf("tvshow %q", id))
}
