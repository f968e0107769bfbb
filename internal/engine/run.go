package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/changes"
	"github.com/nwdata/tablesync/internal/dag"
	"github.com/nwdata/tablesync/internal/destination"
	"github.com/nwdata/tablesync/internal/ledger"
)

// Run executes one sync: reads the catalog, orders tables by foreign-key
// dependencies, and syncs them in order. A failing table never stops the
// run; in strict mode its dependents are skipped, in permissive mode they
// are still attempted. The returned error is non-nil only for run-level
// failures, before or outside any table sync.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	destName := destination.Normalize(e.cfg.Destination.Type)
	summary := &Summary{
		RunID:       runID,
		Destination: destName,
		StartedAt:   time.Now().UTC(),
	}

	logger := e.logger.With("run_id", runID, "destination", destName)
	logger.Info("sync run starting", "source", e.src.Path())

	tables, err := e.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*catalog.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	graph := dag.Build(tables)
	order, err := graph.Order()
	if err != nil {
		return nil, err
	}
	logger.Debug("load order resolved", "tables", len(order))

	dest, err := e.newDestination(e.cfg.Destination)
	if err != nil {
		return nil, err
	}
	if err := dest.Open(ctx); err != nil {
		_ = dest.Close()
		return nil, err
	}
	defer func() { _ = dest.Close() }()

	blocked := make(map[string]bool, len(order))
	for _, name := range order {
		var result *TableResult
		if e.cfg.Strict && e.hasBlockedAncestor(graph, blocked, name) {
			result = &TableResult{Table: name, Status: ledger.StatusSkipped}
			logger.Warn("table skipped, upstream table failed", "table", name)
		} else {
			result = e.syncTable(ctx, dest, destName, runID, byName[name])
		}

		if result.Status != ledger.StatusSuccess {
			blocked[name] = true
		}
		summary.Results = append(summary.Results, result)

		now := time.Now().UTC()
		entry := &ledger.Entry{
			RunID:        runID,
			Table:        name,
			Destination:  destName,
			RowsAffected: result.Rows,
			Status:       result.Status,
			Attempts:     result.Attempts,
			StartedAt:    now.Add(-result.Duration),
			FinishedAt:   now,
		}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		}
		if err := e.store.Record(ctx, entry); err != nil {
			return summary, err
		}
	}

	summary.FinishedAt = time.Now().UTC()
	succeeded, failed, partial, skipped := summary.Counts()
	logger.Info("sync run finished",
		"succeeded", succeeded, "failed", failed, "partial", partial, "skipped", skipped,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// hasBlockedAncestor reports whether any direct parent of name failed or
// was skipped earlier in this run. Transitive ancestors are covered
// because skipped tables are marked blocked too.
func (e *Engine) hasBlockedAncestor(graph *dag.Graph, blocked map[string]bool, name string) bool {
	for _, parent := range graph.Parents(name) {
		if blocked[parent] {
			return true
		}
	}
	return false
}

// syncTable detects and writes the changes for one table, returning its
// result. Errors are captured in the result rather than propagated.
func (e *Engine) syncTable(ctx context.Context, dest destination.Destination, destName, runID string, t *catalog.Table) *TableResult {
	started := time.Now()
	result := &TableResult{Table: t.Name}
	logger := e.logger.With("run_id", runID, "table", t.Name)

	fail := func(err error) *TableResult {
		result.Status = ledger.StatusFailed
		result.Err = err
		result.Duration = time.Since(started)
		logger.Error("table sync failed", "error", err)
		return result
	}

	logger.Debug("table sync", "state", "detecting")
	watermark, err := e.store.LastSuccessfulWatermark(ctx, t.Name, destName)
	if err != nil {
		return fail(err)
	}

	cs, err := e.detector.Detect(ctx, t, watermark)
	if err != nil {
		return fail(err)
	}
	result.FullLoad = cs.IsFullLoad

	if cs.IsFullLoad && e.cfg.WarnFullLoadRows > 0 && int64(cs.Count()) > e.cfg.WarnFullLoadRows {
		logger.Warn("large full load", "rows", cs.Count(), "threshold", e.cfg.WarnFullLoadRows)
	}

	if attempts, err := e.withRetry(ctx, func(ctx context.Context) error {
		return dest.EnsureTable(ctx, t)
	}); err != nil {
		result.Attempts = attempts
		return fail(err)
	}

	logger.Debug("table sync", "state", "writing", "rows", cs.Count(), "full_load", cs.IsFullLoad)
	batches := splitBatches(cs, runID, e.cfg.BatchSize)

	var committedRows int64
	var committedBatches int
	var attempts int
	if cw, ok := dest.(destination.ConcurrentWriter); ok && len(batches) > 1 {
		committedRows, committedBatches, attempts, err = e.writeConcurrent(ctx, dest, batches, cw.MaxConcurrency())
	} else {
		committedRows, committedBatches, attempts, err = e.writeSequential(ctx, dest, batches)
	}
	result.Rows = committedRows
	result.Attempts = attempts
	result.Duration = time.Since(started)

	if err != nil {
		if committedBatches > 0 {
			result.Status = ledger.StatusPartial
			result.Err = err
			logger.Error("table sync partially applied",
				"committed_rows", committedRows, "error", err)
			return result
		}
		return fail(err)
	}

	result.Status = ledger.StatusSuccess
	logger.Info("table synced", "rows", committedRows, "full_load", cs.IsFullLoad,
		"attempts", attempts, "duration", result.Duration)
	return result
}

// writeSequential writes batches in order, stopping at the first failure.
func (e *Engine) writeSequential(ctx context.Context, dest destination.Destination, batches []*destination.Batch) (rows int64, committed, maxAttempts int, err error) {
	for _, b := range batches {
		attempts, werr := e.withRetry(ctx, func(ctx context.Context) error {
			return dest.WriteBatch(ctx, b)
		})
		if attempts > maxAttempts {
			maxAttempts = attempts
		}
		if werr != nil {
			return rows, committed, maxAttempts, werr
		}
		committed++
		rows += int64(len(b.Rows))
	}
	return rows, committed, maxAttempts, nil
}

// writeConcurrent writes independent batches in parallel, bounded by
// limit. Only destinations whose parts cannot conflict opt in.
func (e *Engine) writeConcurrent(ctx context.Context, dest destination.Destination, batches []*destination.Batch, limit int) (int64, int, int, error) {
	var rows, committed, maxAttempts atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, b := range batches {
		g.Go(func() error {
			attempts, err := e.withRetry(gctx, func(ctx context.Context) error {
				return dest.WriteBatch(ctx, b)
			})
			for {
				cur := maxAttempts.Load()
				if int64(attempts) <= cur || maxAttempts.CompareAndSwap(cur, int64(attempts)) {
					break
				}
			}
			if err != nil {
				return err
			}
			committed.Add(1)
			rows.Add(int64(len(b.Rows)))
			return nil
		})
	}
	err := g.Wait()
	return rows.Load(), int(committed.Load()), int(maxAttempts.Load()), err
}

// withRetry runs fn with exponential backoff up to MaxAttempts, applying
// the per-attempt timeout. Permanent errors stop the retries early.
func (e *Engine) withRetry(ctx context.Context, fn func(context.Context) error) (int, error) {
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), retry.NewExponential(e.cfg.RetryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		actx := ctx
		if e.cfg.BatchTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
			defer cancel()
		}
		if err := fn(actx); err != nil {
			if destination.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	return attempts, err
}

// splitBatches chunks a change set into ordered batches. A full load with
// no rows still produces one empty batch so the destination clears the
// target.
func splitBatches(cs *changes.ChangeSet, runID string, size int) []*destination.Batch {
	var batches []*destination.Batch
	for start := 0; start < len(cs.Rows); start += size {
		end := min(start+size, len(cs.Rows))
		batches = append(batches, &destination.Batch{
			Table:      cs.Table,
			Columns:    cs.Columns,
			PrimaryKey: cs.PrimaryKey,
			Rows:       cs.Rows[start:end],
			Seq:        len(batches),
			FullLoad:   cs.IsFullLoad,
			RunID:      runID,
		})
	}
	if len(batches) == 0 && cs.IsFullLoad {
		batches = append(batches, &destination.Batch{
			Table:      cs.Table,
			Columns:    cs.Columns,
			PrimaryKey: cs.PrimaryKey,
			FullLoad:   true,
			RunID:      runID,
		})
	}
	return batches
}
