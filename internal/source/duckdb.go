// Package source manages the connection to the local DuckDB file that
// holds the tables being synchronized.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DB wraps the DuckDB connection. The database file's single-writer lock
// doubles as the advisory cross-run lock: a second run against the same
// file fails to open it.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Open connects to the DuckDB database at path. Use ":memory:" for an
// in-memory database. The file must already exist; the driver would
// otherwise create an empty database from a mistyped path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("source database %s is not accessible: %w", path, err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	logger.Debug("source connected", "path", path)
	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database connection.
func (d *DB) Close() error {
	if d.DB != nil {
		d.logger.Debug("closing source connection")
		return d.DB.Close()
	}
	return nil
}
