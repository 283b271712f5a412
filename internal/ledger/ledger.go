// SPDX-License-Identifier: MPL-2.0

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/faultlab/faultlab/internal/container"
)

// timeLayout has fixed-width fractions so stored stamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS environments (
	environment_id TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	issue_id       TEXT NOT NULL,
	image          TEXT NOT NULL DEFAULT '',
	engine         TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	removed_at     TEXT
);
CREATE INDEX IF NOT EXISTS environments_live ON environments (removed_at);
`

var (
	// Compile-time interface checks
	_ Ledger = (*SQLite)(nil)
	_ Ledger = Nop{}
)

type (
	// Ledger records the lifecycle of environments.
	Ledger interface {
		// Record notes a newly started environment.
		Record(ctx context.Context, e Entry) error
		// MarkRemoved notes that an environment was torn down. Marking an
		// unknown or already removed environment is not an error.
		MarkRemoved(ctx context.Context, envID container.ContainerID) error
		// Live lists environments not yet marked removed, oldest first.
		Live(ctx context.Context) ([]Entry, error)
		Close() error
	}

	// Entry is one journaled environment.
	Entry struct {
		EnvironmentID container.ContainerID
		SessionID     string
		IssueID       string
		Image         container.ImageTag
		Engine        string
		CreatedAt     time.Time
		// RemovedAt is zero while the environment is live.
		RemovedAt time.Time
	}

	// SQLite is a Ledger backed by a SQLite database file.
	SQLite struct {
		db  *sql.DB
		now func() time.Time
	}

	// Nop is a Ledger that records nothing.
	Nop struct{}
)

// Open returns the ledger at path, creating the database and its parent
// directory when missing. An empty path returns a Nop ledger.
func Open(ctx context.Context, path string) (Ledger, error) {
	if path == "" {
		return Nop{}, nil
	}
	return OpenSQLite(ctx, path)
}

// OpenSQLite opens or creates the SQLite ledger at path. ":memory:" gives
// a private in-memory ledger.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One connection keeps ":memory:" a single database and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize ledger %s: %w", path, err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Record inserts or replaces the entry for e.EnvironmentID.
func (l *SQLite) Record(ctx context.Context, e Entry) error {
	if err := e.EnvironmentID.Validate(); err != nil {
		return err
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO environments
			(environment_id, session_id, issue_id, image, engine, created_at, removed_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		string(e.EnvironmentID), e.SessionID, e.IssueID, string(e.Image), e.Engine, formatTime(created))
	if err != nil {
		return fmt.Errorf("record environment %s: %w", e.EnvironmentID.Short(), err)
	}
	return nil
}

// MarkRemoved sets removed_at for a live environment.
func (l *SQLite) MarkRemoved(ctx context.Context, envID container.ContainerID) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE environments SET removed_at = ? WHERE environment_id = ? AND removed_at IS NULL`,
		formatTime(l.now()), string(envID))
	if err != nil {
		return fmt.Errorf("mark environment %s removed: %w", envID.Short(), err)
	}
	return nil
}

// Live lists environments that were never marked removed.
func (l *SQLite) Live(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT environment_id, session_id, issue_id, image, engine, created_at
		 FROM environments WHERE removed_at IS NULL ORDER BY created_at, environment_id`)
	if err != nil {
		return nil, fmt.Errorf("list live environments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			id, image, stamp string
		)
		if err := rows.Scan(&id, &e.SessionID, &e.IssueID, &image, &e.Engine, &stamp); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		e.EnvironmentID = container.ContainerID(id)
		e.Image = container.ImageTag(image)
		if e.CreatedAt, err = time.Parse(timeLayout, stamp); err != nil {
			return nil, fmt.Errorf("environment %s has a bad timestamp %q: %w", id, stamp, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (l *SQLite) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record does nothing.
func (Nop) Record(context.Context, Entry) error { return nil }

// MarkRemoved does nothing.
func (Nop) MarkRemoved(context.Context, container.ContainerID) error { return nil }

// Live returns no entries.
func (Nop) Live(context.Context) ([]Entry, error) { return nil, nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// IsNop reports whether l records nothing.
func IsNop(l Ledger) bool {
	_, ok := l.(Nop)
	return l == nil || ok
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
