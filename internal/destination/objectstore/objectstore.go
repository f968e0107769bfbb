// Package objectstore implements the S3-compatible destination. Batches
// become snappy-compressed Parquet part files laid out per table and run.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/destination"
)

func init() {
	destination.Register("objectstore", func(cfg *destination.Config) (destination.Destination, error) {
		return New(cfg)
	})
}

const defaultConcurrency = 4

// Dest writes Parquet part files to an object store. Part uploads for one
// table are independent, so the engine may run them concurrently.
type Dest struct {
	cfg   *destination.Config
	store ObjectStore

	mu     sync.RWMutex
	tables map[string]*catalog.Table
}

// New creates an object-store destination from cfg.
func New(cfg *destination.Config) (*Dest, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("object store destination requires a bucket")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("object store destination requires an endpoint")
	}
	return &Dest{cfg: cfg, tables: make(map[string]*catalog.Table)}, nil
}

// NewWithStore creates a destination over an existing store. Used by
// tests to swap in the local filesystem backend.
func NewWithStore(cfg *destination.Config, store ObjectStore) *Dest {
	return &Dest{cfg: cfg, store: store, tables: make(map[string]*catalog.Table)}
}

// Open builds the S3 client and ensures the bucket exists.
func (d *Dest) Open(ctx context.Context) error {
	if d.store == nil {
		store, err := NewS3Client(d.cfg.Endpoint, d.cfg.AccessKey, d.cfg.SecretKey,
			d.cfg.Region, d.cfg.Bucket, d.cfg.UseSSL)
		if err != nil {
			return destination.NewWriteError("connect_failed", true, err)
		}
		d.store = store
	}
	if err := d.store.Ensure(ctx); err != nil {
		return destination.NewWriteError("bucket_unavailable", true, err)
	}
	return nil
}

// Close releases nothing; the S3 client has no persistent connection.
func (d *Dest) Close() error { return nil }

// MaxConcurrency reports how many part uploads may run in parallel for
// one table.
func (d *Dest) MaxConcurrency() int {
	if v, ok := d.cfg.Options["max_concurrency"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultConcurrency
}

// EnsureTable caches the table descriptor; the store itself has no
// structure to create ahead of the part files.
func (d *Dest) EnsureTable(_ context.Context, t *catalog.Table) error {
	d.mu.Lock()
	d.tables[t.Name] = t
	d.mu.Unlock()
	return nil
}

// WriteBatch encodes the batch as one Parquet part file and uploads it.
// Empty batches upload nothing; the run prefix itself marks the sync.
func (d *Dest) WriteBatch(ctx context.Context, b *destination.Batch) error {
	if len(b.Rows) == 0 {
		return nil
	}

	d.mu.RLock()
	t, ok := d.tables[b.Table]
	d.mu.RUnlock()
	if !ok {
		return destination.NewWriteError("table_not_prepared", false,
			fmt.Errorf("no descriptor cached for table %s", b.Table))
	}

	data, err := encodeParquet(t, b.Columns, b.Rows)
	if err != nil {
		return destination.NewWriteError("encode_failed", false, err)
	}

	key := d.objectKey(b)
	if err := d.store.Put(ctx, key, data); err != nil {
		return destination.NewWriteError("upload_failed", true, err)
	}
	return nil
}

// objectKey builds the part file key:
// <prefix>/<table>/run=<run_id>/part-NNNNNN.parquet
func (d *Dest) objectKey(b *destination.Batch) string {
	parts := []string{}
	if p := strings.Trim(d.cfg.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, b.Table, "run="+b.RunID,
		fmt.Sprintf("part-%06d.parquet", b.Seq))
	return strings.Join(parts, "/")
}
