package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/matzehuels/symgraph/pkg/pkgkey"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS attempts (
    attempt     TEXT PRIMARY KEY,
    pkg         TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS attempts_open ON attempts (pkg) WHERE status = '';

CREATE TABLE IF NOT EXISTS steps (
    attempt      TEXT NOT NULL,
    step         TEXT NOT NULL,
    output       BLOB,
    completed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (attempt, step)
);
`

// SQLiteJournal persists attempts and completed steps in a SQLite database
// so a restarted process resumes open attempts.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens (or creates) the journal database at path.
func OpenSQLiteJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// SQLite has a single writer; one connection avoids SQLITE_BUSY between
	// pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Begin(ctx context.Context, key pkgkey.Key) (string, bool, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var attempt string
	err = tx.QueryRowContext(ctx,
		"SELECT attempt FROM attempts WHERE pkg = ? AND status = '' ORDER BY attempt DESC LIMIT 1",
		key.String()).Scan(&attempt)
	switch {
	case err == nil:
		return attempt, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", false, fmt.Errorf("journal: find open attempt for %s: %w", key, err)
	}

	attempt = NewAttemptID()
	if _, err := tx.ExecContext(ctx, "INSERT INTO attempts (attempt, pkg) VALUES (?, ?)", attempt, key.String()); err != nil {
		return "", false, fmt.Errorf("journal: insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("journal: commit attempt: %w", err)
	}
	return attempt, false, nil
}

func (j *SQLiteJournal) Completed(ctx context.Context, _ pkgkey.Key, attempt string) (map[string][]byte, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT step, output FROM steps WHERE attempt = ?", attempt)
	if err != nil {
		return nil, fmt.Errorf("journal: query steps: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var step string
		var output []byte
		if err := rows.Scan(&step, &output); err != nil {
			return nil, fmt.Errorf("journal: scan step: %w", err)
		}
		out[step] = output
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) MarkDone(ctx context.Context, _ pkgkey.Key, attempt, step string, output []byte) error {
	const q = `
		INSERT INTO steps (attempt, step, output, completed_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(attempt, step) DO UPDATE SET output = excluded.output, completed_at = CURRENT_TIMESTAMP`
	if _, err := j.db.ExecContext(ctx, q, attempt, step, output); err != nil {
		return fmt.Errorf("journal: mark %s done: %w", step, err)
	}
	return nil
}

func (j *SQLiteJournal) Finish(ctx context.Context, _ pkgkey.Key, attempt, status string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx,
		"UPDATE attempts SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE attempt = ?",
		status, attempt); err != nil {
		return fmt.Errorf("journal: finish attempt: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM steps WHERE attempt = ?", attempt); err != nil {
		return fmt.Errorf("journal: drop steps: %w", err)
	}
	return tx.Commit()
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

var _ Journal = (*SQLiteJournal)(nil)
