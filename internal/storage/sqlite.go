package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS global_posts (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	external_id TEXT UNIQUE,
	text_content TEXT NOT NULL,
	raw_html TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	post_id TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	tier TEXT NOT NULL,
	contactable INTEGER NOT NULL DEFAULT 0,
	visible INTEGER NOT NULL DEFAULT 0,
	shown_at TIMESTAMP,
	applied INTEGER NOT NULL DEFAULT 0,
	applied_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (recipient_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_matches_recipient_shown ON matches (recipient_id, shown_at);

CREATE TABLE IF NOT EXISTS quota_windows (
	recipient_id TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	cap_limit INTEGER NOT NULL DEFAULT 0,
	reset_at TIMESTAMP NOT NULL
);
`

// OpenSQLite opens (creating if needed) a local SQLite database and wires
// question-placeholder repositories. Single-user mode.
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return newSQLStore(db, sq.Question), nil
}
