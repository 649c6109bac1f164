// Package history keeps a durable record of processed assets in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one processed asset.
type Entry struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batchId"`
	Asset      string    `json:"asset"`
	Status     string    `json:"status"`
	Target     string    `json:"target,omitempty"`
	Model      string    `json:"model,omitempty"`
	Degraded   bool      `json:"degraded"`
	Duration   float64   `json:"duration"`
	Language   string    `json:"language,omitempty"`
	Segments   int       `json:"segments"`
	TextPath   string    `json:"textPath,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	batchId TEXT NOT NULL,
	asset TEXT NOT NULL,
	status TEXT NOT NULL,
	target TEXT,
	model TEXT,
	degraded INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	language TEXT,
	segments INTEGER NOT NULL DEFAULT 0,
	textPath TEXT,
	errorKind TEXT,
	error TEXT,
	stderr TEXT,
	startedAt REAL NOT NULL,
	finishedAt REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_finished ON runs(finishedAt);
`

// Store provides access to the history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" keeps it in process.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := ensureColumn(db, "stderr", "TEXT"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts or replaces one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, batchId, asset, status, target, model, degraded, duration, language,
			 segments, textPath, errorKind, error, stderr, startedAt, finishedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.BatchID, e.Asset, e.Status, e.Target, e.Model, boolToInt(e.Degraded), e.Duration,
		e.Language, e.Segments, e.TextPath, e.ErrorKind, e.Error, e.Stderr,
		unixFromTime(e.StartedAt), unixFromTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batchId, asset, status, target, model, degraded, duration, language,
			segments, textPath, errorKind, error, stderr, startedAt, finishedAt
		FROM runs
		ORDER BY finishedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var degraded int
		var target, model, language, textPath, errorKind, errText, stderr sql.NullString
		var startedAt, finishedAt float64
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Asset, &e.Status, &target, &model, &degraded,
			&e.Duration, &language, &e.Segments, &textPath, &errorKind, &errText,
			&stderr, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Target = target.String
		e.Model = model.String
		e.Language = language.String
		e.TextPath = textPath.String
		e.ErrorKind = errorKind.String
		e.Error = errText.String
		e.Stderr = stderr.String
		e.Degraded = degraded != 0
		e.StartedAt = timeFromUnix(startedAt)
		e.FinishedAt = timeFromUnix(finishedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ensureColumn adds a column missing from databases created by older builds.
func ensureColumn(db *sql.DB, name, typ string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = ?`, name).Scan(&n); err != nil {
		return fmt.Errorf("inspect runs: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE runs ADD COLUMN %s %s", name, typ)); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
