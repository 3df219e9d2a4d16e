package db

// Schema defines the SQLite schema for tracked shows, their episodes and the
// file queued for each episode. Every statement is idempotent so it can run
// against an existing, populated database.
const Schema = `
CREATE TABLE IF NOT EXISTS tvshows (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    quality TEXT NOT NULL CHECK(quality IN ('SD', 'HD', 'FHD')),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS episodes (
    tvshow_id TEXT NOT NULL REFERENCES tvshows(id) ON DELETE CASCADE,
    season INTEGER NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    state INTEGER NOT NULL CHECK(state IN (1, 2, 3)),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tvshow_id, season, number)
);

CREATE INDEX IF NOT EXISTS idx_episodes_state ON episodes(state);

CREATE TABLE IF NOT EXISTS files (
    tvshow_id TEXT NOT NULL,
    season INTEGER NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    link TEXT NOT NULL,
    quality TEXT NOT NULL CHECK(quality IN ('SD', 'HD', 'FHD')),
    downloaded_at TEXT,
    PRIMARY KEY (tvshow_id, season, number),
    FOREIGN KEY (tvshow_id, season, number)
        REFERENCES episodes(tvshow_id, season, number) ON DELETE CASCADE
);
`
