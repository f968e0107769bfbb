// Package ledger records sync run outcomes in the controle_cargas table
// of the source database. The ledger is append-only: every attempt adds
// a row, and watermarks are derived from the latest successful one.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nwdata/tablesync/internal/catalog"
)

// Run statuses. Partial means some batches committed before a failure,
// so the destination holds a prefix of the change set.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
	StatusSkipped = "skipped"
)

// Entry is one ledger row: the outcome of syncing one table to one
// destination within a run.
type Entry struct {
	RunID        string
	Table        string
	Destination  string
	RowsAffected int64
	Status       string
	Attempts     int
	StartedAt    time.Time
	FinishedAt   time.Time
	Error        string
}

// WriteError indicates the ledger itself could not be updated. The run
// aborts on it: losing bookkeeping would corrupt future watermarks.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger write failed for table %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store reads and writes the run ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a ledger store. If logger is nil, a discard logger is
// used.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id        VARCHAR NOT NULL,
			table_name    VARCHAR NOT NULL,
			destination   VARCHAR NOT NULL,
			rows_affected BIGINT NOT NULL,
			status        VARCHAR NOT NULL,
			attempts      INTEGER NOT NULL,
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP NOT NULL,
			error         VARCHAR
		)
	`, catalog.LedgerTable)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &WriteError{Table: catalog.LedgerTable, Err: err}
	}
	return nil
}

// Record appends one entry. Timestamps are stored in UTC.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
			(run_id, table_name, destination, rows_affected, status, attempts, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, catalog.LedgerTable)

	var errText any
	if e.Error != "" {
		errText = e.Error
	}
	_, err := s.db.ExecContext(ctx, query,
		e.RunID, e.Table, e.Destination, e.RowsAffected, e.Status, e.Attempts,
		e.StartedAt.UTC(), e.FinishedAt.UTC(), errText)
	if err != nil {
		return &WriteError{Table: e.Table, Err: err}
	}

	s.logger.Debug("ledger entry recorded",
		"run_id", e.RunID, "table", e.Table, "status", e.Status, "rows", e.RowsAffected)
	return nil
}

// LastSuccessfulWatermark returns the finish time of the most recent
// successful sync of table to dest, or nil when none exists. A nil
// watermark triggers a full load.
func (s *Store) LastSuccessfulWatermark(ctx context.Context, table, dest string) (*time.Time, error) {
	query := fmt.Sprintf(`
		SELECT MAX(finished_at)
		FROM %s
		WHERE table_name = ? AND destination = ? AND status = ?
	`, catalog.LedgerTable)

	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, table, dest, StatusSuccess).Scan(&ts); err != nil {
		return nil, fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time.UTC()
	return &t, nil
}

// ListRuns returns the most recent entries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT run_id, table_name, destination, rows_affected, status, attempts, started_at, finished_at, error
		FROM %s
		ORDER BY finished_at DESC, table_name
		LIMIT ?
	`, catalog.LedgerTable)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		if err := rows.Scan(&e.RunID, &e.Table, &e.Destination, &e.RowsAffected,
			&e.Status, &e.Attempts, &e.StartedAt, &e.FinishedAt, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Error = errText.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}
