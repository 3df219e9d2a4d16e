package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
)

const episodeColumns = `
	e.tvshow_id, s.name, s.quality, e.title, e.season, e.number, e.state
	FROM episodes e JOIN tvshows s ON s.id = e.tvshow_id`

// InsertEpisode adds an episode. An episode without a state is inserted as
// queued. It fails with ErrEntryExists if the episode is already known and
// with ErrEntryNotFound if its show is not tracked.
func (t *Tx) InsertEpisode(ctx context.Context, ep episode.Episode) error {
	state := ep.State
	if state == episode.StateUnknown {
		state = episode.StateQueued
	}
	if !state.Valid() {
		return fmt.Errorf("invalid state %s for episode %s", state, ep.Key())
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO episodes (tvshow_id, season, number, title, state) VALUES (?, ?, ?, ?, ?)`,
		ep.TVShow.ID, ep.Season, ep.Number, ep.Title, int(state))
	if err != nil {
		t.logger.Debug("database_insert_episode_failed", "episode", ep.Key().String(), "error", err)
		return entryError(err, fmt.Sprintf("episode %s", ep.Key()))
	}

	t.logger.Debug("database_episode_inserted", "episode", ep.Key().String(), "state", state.String())
	return nil
}

// Episodes lists every known episode. The state is loaded only when
// includeState is set; otherwise it is left as StateUnknown.
func (t *Tx) Episodes(ctx context.Context, includeState bool) ([]episode.Episode, error) {
	episodes, err := t.queryEpisodes(ctx, `SELECT `+episodeColumns+` ORDER BY e.tvshow_id, e.season, e.number`)
	if err != nil {
		return nil, err
	}
	if !includeState {
		for i := range episodes {
			episodes[i].State = episode.StateUnknown
		}
	}
	return episodes, nil
}

// EpisodesFor lists the episodes of a single show, with their state.
func (t *Tx) EpisodesFor(ctx context.Context, tvshowID string) ([]episode.Episode, error) {
	return t.queryEpisodes(ctx,
		`SELECT `+episodeColumns+` WHERE e.tvshow_id = ? ORDER BY e.season, e.number`, tvshowID)
}

// EpisodesInState lists the episodes currently in state.
func (t *Tx) EpisodesInState(ctx context.Context, state episode.State) ([]episode.Episode, error) {
	return t.queryEpisodes(ctx,
		`SELECT `+episodeColumns+` WHERE e.state = ? ORDER BY e.tvshow_id, e.season, e.number`, int(state))
}

func (t *Tx) queryEpisodes(ctx context.Context, query string, args ...any) ([]episode.Episode, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []episode.Episode
	for rows.Next() {
		var ep episode.Episode
		var quality string
		var state int
		if err := rows.Scan(&ep.TVShow.ID, &ep.TVShow.Name, &quality,
			&ep.Title, &ep.Season, &ep.Number, &state); err != nil {
			return nil, errors.Wrap(err, "failed to scan episode")
		}
		ep.TVShow.Quality = episode.Quality(quality)
		ep.State = episode.State(state)
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return episodes, nil
}

// SetEpisodeState moves an episode forward in its lifecycle. Setting the
// current state again is a no-op. It never creates an episode: an unknown
// episode yields ErrEntryNotFound, and a backwards move ErrStateRegression.
func (t *Tx) SetEpisodeState(ctx context.Context, key episode.Key, state episode.State) error {
	if !state.Valid() {
		return fmt.Errorf("invalid state %s for episode %s", state, key)
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE episodes SET state = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE tvshow_id = ? AND season = ? AND number = ? AND state <= ?`,
		int(state), key.TVShowID, key.Season, key.Number, int(state))
	if err != nil {
		return entryError(err, fmt.Sprintf("episode %s", key))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		t.logger.Debug("database_episode_state_set", "episode", key.String(), "state", state.String())
		return nil
	}

	exists, err := t.EpisodeExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: episode %s to %s", ErrStateRegression, key, state)
	}
	return fmt.Errorf("%w: episode %s", ErrEntryNotFound, key)
}

// EpisodeExists reports whether the episode is known.
func (t *Tx) EpisodeExists(ctx context.Context, key episode.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM episodes WHERE tvshow_id = ? AND season = ? AND number = ?)`,
		key.TVShowID, key.Season, key.Number).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// EpisodeState returns the current state of an episode, or ErrEntryNotFound.
func (t *Tx) EpisodeState(ctx context.Context, key episode.Key) (episode.State, error) {
	var state int
	err := t.tx.QueryRowContext(ctx,
		`SELECT state FROM episodes WHERE tvshow_id = ? AND season = ? AND number = ?`,
		key.TVShowID, key.Season, key.Number).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return episode.StateUnknown, fmt.Errorf("%w: episode %s", ErrEntryNotFound, key)
	}
	if err != nil {
		return episode.StateUnknown, err
	}
	return episode.State(state), nil
}
