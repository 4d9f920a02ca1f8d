package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"varengine/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ FetchLog = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS fetches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT    NOT NULL,
	source     TEXT    NOT NULL,
	start_ms   INTEGER NOT NULL,
	end_ms     INTEGER NOT NULL,
	bars       INTEGER NOT NULL,
	fetched_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fetches_symbol_source ON fetches(symbol, source, fetched_ms);
`

// SQLiteStore implements FetchLog backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore. ":memory:" is accepted.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// FetchLog implementation
// ---------------------------------------------------------------------------

// Record inserts a completed fetch. A zero FetchedAt is stamped with the
// current time.
func (s *SQLiteStore) Record(ctx context.Context, f Fetch) error {
	if f.FetchedAt.IsZero() {
		f.FetchedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetches (symbol, source, start_ms, end_ms, bars, fetched_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(f.Symbol), string(f.Source),
		f.Start.UnixMilli(), f.End.UnixMilli(), f.Bars, f.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording fetch for %s: %w", f.Symbol, err)
	}
	return nil
}

// Covered reports whether a single fetch newer than ttl spans [start, end].
func (s *SQLiteStore) Covered(ctx context.Context, symbol string, source domain.Source, start, end time.Time, ttl time.Duration) (bool, error) {
	cutoff := s.now().Add(-ttl).UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fetches
		 WHERE symbol = ? AND source = ? AND start_ms <= ? AND end_ms >= ? AND fetched_ms >= ?`,
		strings.ToUpper(symbol), string(source), start.UnixMilli(), end.UnixMilli(), cutoff,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying fetch log for %s: %w", symbol, err)
	}
	return n > 0, nil
}

// Recent returns the latest fetches, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Fetch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, source, start_ms, end_ms, bars, fetched_ms FROM fetches
		 ORDER BY fetched_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fetch
	for rows.Next() {
		var (
			f                         Fetch
			source                    string
			startMs, endMs, fetchedMs int64
		)
		if err := rows.Scan(&f.Symbol, &source, &startMs, &endMs, &f.Bars, &fetchedMs); err != nil {
			return nil, err
		}
		f.Source = domain.Source(source)
		f.Start = time.UnixMilli(startMs).UTC()
		f.End = time.UnixMilli(endMs).UTC()
		f.FetchedAt = time.UnixMilli(fetchedMs).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}
