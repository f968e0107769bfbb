// Package engine orchestrates a sync run: catalog read, dependency
// ordering, change detection, destination writes, and ledger updates.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/changes"
	"github.com/nwdata/tablesync/internal/destination"
	"github.com/nwdata/tablesync/internal/ledger"
	"github.com/nwdata/tablesync/internal/source"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultBatchSize        = 500
	DefaultMaxAttempts      = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultBatchTimeout     = 30 * time.Second
	DefaultWarnFullLoadRows = 100000
)

// Config holds the settings for one engine instance.
type Config struct {
	// SourcePath is the DuckDB database file. Empty means in-memory.
	SourcePath string

	// Destination selects and configures the sync target.
	Destination *destination.Config

	// BatchSize is the number of rows per destination write.
	BatchSize int

	// MaxAttempts bounds write attempts per batch, including the first.
	MaxAttempts int

	// RetryBaseDelay is the initial backoff between attempts; it doubles
	// on each retry.
	RetryBaseDelay time.Duration

	// BatchTimeout bounds a single write attempt. Zero applies the
	// default; negative disables the timeout.
	BatchTimeout time.Duration

	// Strict skips every table whose ancestor failed, keeping referential
	// integrity at the destination. Permissive mode attempts all tables.
	Strict bool

	// WarnFullLoadRows logs a warning when a full load exceeds this many
	// rows. Zero applies the default; negative disables the warning.
	WarnFullLoadRows int64

	// UpdateColumns overrides the recognized modification-timestamp
	// column names.
	UpdateColumns []string

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.BatchTimeout < 0 {
		c.BatchTimeout = 0
	} else if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.WarnFullLoadRows == 0 {
		c.WarnFullLoadRows = DefaultWarnFullLoadRows
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Engine runs table synchronizations against a single source database.
type Engine struct {
	cfg      Config
	src      *source.DB
	reader   *catalog.Reader
	detector *changes.Detector
	store    *ledger.Store
	logger   *slog.Logger

	// newDestination is swapped out by tests.
	newDestination func(cfg *destination.Config) (destination.Destination, error)
}

// New opens the source database and prepares the engine. The ledger
// schema is created on first use.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.Destination == nil {
		return nil, fmt.Errorf("engine requires a destination configuration")
	}

	src, err := source.Open(ctx, cfg.SourcePath, cfg.Logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		src:            src,
		reader:         catalog.NewReader(src.DB, cfg.Logger, cfg.UpdateColumns),
		detector:       changes.NewDetector(src.DB, cfg.Logger),
		store:          ledger.NewStore(src.DB, cfg.Logger),
		logger:         cfg.Logger,
		newDestination: destination.New,
	}
	if err := e.store.EnsureSchema(ctx); err != nil {
		_ = src.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the source connection.
func (e *Engine) Close() error {
	return e.src.Close()
}

// Ledger exposes the run ledger for read-only inspection.
func (e *Engine) Ledger() *ledger.Store { return e.store }

// Catalog reads the current table descriptors from the source.
func (e *Engine) Catalog(ctx context.Context) ([]*catalog.Table, error) {
	return e.reader.Read(ctx)
}

// TableResult is the outcome of syncing one table.
type TableResult struct {
	Table    string
	Status   string
	Rows     int64
	Attempts int
	FullLoad bool
	Duration time.Duration
	Err      error
}

// Summary aggregates the results of one run.
type Summary struct {
	RunID       string
	Destination string
	StartedAt   time.Time
	FinishedAt  time.Time
	Results     []*TableResult
}

// Counts returns the number of succeeded, failed, partial, and skipped
// tables.
func (s *Summary) Counts() (succeeded, failed, partial, skipped int) {
	for _, r := range s.Results {
		switch r.Status {
		case ledger.StatusSuccess:
			succeeded++
		case ledger.StatusFailed:
			failed++
		case ledger.StatusPartial:
			partial++
		case ledger.StatusSkipped:
			skipped++
		}
	}
	return
}

// OK reports whether every table synced successfully.
func (s *Summary) OK() bool {
	_, failed, partial, skipped := s.Counts()
	return failed == 0 && partial == 0 && skipped == 0
}
