// Package ledger persists a durable record of every archive file rotation
// in a SQLite database, grounded on the migration-slice pattern of the
// teacher's store package. Unlike the in-memory rotation counter in
// internal/archive, the ledger survives a process restart and gives
// operators an auditable history of what was written where and when.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brianwynne/audyn/internal/audynerr"
)

// Entry is one completed rotation record.
type Entry struct {
	ID           int64
	Path         string
	OpenedAtUnix int64
	ClosedAtUnix int64 // 0 while the file is still open
	BytesWritten uint64
	FramesWritten uint64
}

// Ledger wraps a SQLite connection recording archive rotations.
type Ledger struct {
	db *sql.DB
}

// migrations is applied in order; each statement is idempotent so the
// ledger can be reopened against an existing database file.
var migrations = []string{
	`PRAGMA journal_mode = WAL`,
	`CREATE TABLE IF NOT EXISTS rotations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		opened_at_unix INTEGER NOT NULL,
		closed_at_unix INTEGER NOT NULL DEFAULT 0,
		bytes_written INTEGER NOT NULL DEFAULT 0,
		frames_written INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rotations_opened_at ON rotations(opened_at_unix)`,
}

// Open opens (creating if absent) the SQLite database at path and applies
// pending migrations.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory for %s: %w", path, audynerr.ErrIoFailure)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, audynerr.ErrIoFailure)
	}

	l := &Ledger{db: db}
	if err := l.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: apply migration: %w", err)
		}
	}
	return nil
}

// RecordOpen inserts a new rotation row for a freshly opened archive file
// and returns its row ID for the matching RecordClose call.
func (l *Ledger) RecordOpen(ctx context.Context, path string, openedAt time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO rotations (path, opened_at_unix) VALUES (?, ?)`,
		path, openedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("ledger: record open for %s: %w", path, audynerr.ErrIoFailure)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: read inserted rotation id: %w", audynerr.ErrIoFailure)
	}
	return id, nil
}

// RecordClose fills in the closing statistics for a previously opened
// rotation row.
func (l *Ledger) RecordClose(ctx context.Context, id int64, closedAt time.Time, bytesWritten, framesWritten uint64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE rotations SET closed_at_unix = ?, bytes_written = ?, frames_written = ? WHERE id = ?`,
		closedAt.Unix(), bytesWritten, framesWritten, id)
	if err != nil {
		return fmt.Errorf("ledger: record close for rotation %d: %w", id, audynerr.ErrIoFailure)
	}
	return nil
}

// Recent returns the most recently opened rotations, newest first, for
// diagnostics and the "audyn status" report.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, path, opened_at_unix, closed_at_unix, bytes_written, frames_written
		 FROM rotations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query recent rotations: %w", audynerr.ErrIoFailure)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.OpenedAtUnix, &e.ClosedAtUnix, &e.BytesWritten, &e.FramesWritten); err != nil {
			return nil, fmt.Errorf("ledger: scan rotation row: %w", audynerr.ErrIoFailure)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
