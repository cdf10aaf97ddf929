// Package sqlite implements archive.Store on a local SQLite file using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nypyp/metahuman-stream/internal/archive"
)

var _ archive.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT    NOT NULL DEFAULT '',
    segment_id   INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    reply        TEXT    NOT NULL DEFAULT '',
    published_at INTEGER NOT NULL,
    delivered_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_run
    ON transcripts (run_id, segment_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_delivered
    ON transcripts (delivered_at);
`

// pragmas tune SQLite for a single writer with concurrent readers.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = memory",
	"PRAGMA busy_timeout = 5000",
}

// Store is a SQLite-backed archive.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite archive: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite archive: open: %w", err)
	}
	// One connection keeps ":memory:" databases and WAL writes consistent.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite archive: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite archive: migrate: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Append implements archive.Store.
func (s *Store) Append(ctx context.Context, r archive.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (run_id, segment_id, text, reply, published_at, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SegmentID, r.Text, r.Reply,
		r.PublishedAt.UnixNano(), r.DeliveredAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite archive: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite archive: last insert id: %w", err)
	}
	return id, nil
}

// Recent implements archive.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]archive.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, segment_id, text, reply, published_at, delivered_at
		   FROM transcripts
		  ORDER BY delivered_at DESC, id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite archive: query: %w", err)
	}
	defer rows.Close()

	var out []archive.Record
	for rows.Next() {
		var (
			r                    archive.Record
			published, delivered int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.SegmentID, &r.Text, &r.Reply, &published, &delivered); err != nil {
			return nil, fmt.Errorf("sqlite archive: scan: %w", err)
		}
		r.PublishedAt = time.Unix(0, published)
		r.DeliveredAt = time.Unix(0, delivered)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite archive: rows: %w", err)
	}
	return out, nil
}

// Close implements archive.Store.
func (s *Store) Close() error { return s.db.Close() }
