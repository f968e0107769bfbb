package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/destination"
)

func clientesTable() *catalog.Table {
	return &catalog.Table{
		Name: "clientes",
		Columns: []catalog.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "nome", Type: "VARCHAR"},
			{Name: "saldo", Type: "DOUBLE"},
		},
		PrimaryKey: []string{"id"},
	}
}

func newLocalDest(t *testing.T) (*Dest, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &destination.Config{Type: "s3", Bucket: "sync", Prefix: "exports"}
	d := NewWithStore(cfg, NewLocalStore(dir))
	require.NoError(t, d.Open(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d, dir
}

func TestNewValidation(t *testing.T) {
	_, err := New(&destination.Config{Type: "s3", Endpoint: "localhost:9000"})
	assert.Error(t, err, "bucket is required")

	_, err = New(&destination.Config{Type: "s3", Bucket: "sync"})
	assert.Error(t, err, "endpoint is required")
}

func TestWriteBatchProducesPartFile(t *testing.T) {
	d, dir := newLocalDest(t)
	ctx := context.Background()

	tbl := clientesTable()
	require.NoError(t, d.EnsureTable(ctx, tbl))

	b := &destination.Batch{
		Table:      "clientes",
		Columns:    tbl.ColumnNames(),
		PrimaryKey: tbl.PrimaryKey,
		Rows:       [][]any{{int64(1), "ana", 10.5}, {int64(2), "bruno", nil}},
		Seq:        3,
		RunID:      "run-abc",
	}
	require.NoError(t, d.WriteBatch(ctx, b))

	path := filepath.Join(dir, "exports", "clientes", "run=run-abc", "part-000003.parquet")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// Parquet magic bytes at both ends of the file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

func TestWriteBatchEmptyUploadsNothing(t *testing.T) {
	d, dir := newLocalDest(t)
	ctx := context.Background()

	tbl := clientesTable()
	require.NoError(t, d.EnsureTable(ctx, tbl))

	b := &destination.Batch{
		Table: "clientes", Columns: tbl.ColumnNames(), RunID: "run-abc", FullLoad: true,
	}
	require.NoError(t, d.WriteBatch(ctx, b))

	_, err := os.Stat(filepath.Join(dir, "exports", "clientes"))
	assert.True(t, os.IsNotExist(err), "empty batch must not create objects")
}

func TestWriteBatchWithoutEnsureFails(t *testing.T) {
	d, _ := newLocalDest(t)

	b := &destination.Batch{
		Table:   "desconhecida",
		Columns: []string{"id"},
		Rows:    [][]any{{int64(1)}},
		RunID:   "run-abc",
	}
	err := d.WriteBatch(context.Background(), b)
	require.Error(t, err)
	assert.False(t, destination.IsTransient(err))
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	d := NewWithStore(&destination.Config{Bucket: "sync"}, NewLocalStore(t.TempDir()))
	key := d.objectKey(&destination.Batch{Table: "pedidos", RunID: "r1", Seq: 0})
	assert.Equal(t, "pedidos/run=r1/part-000000.parquet", key)
}

func TestMaxConcurrency(t *testing.T) {
	d := NewWithStore(&destination.Config{Bucket: "sync"}, NewLocalStore(t.TempDir()))
	assert.Equal(t, defaultConcurrency, d.MaxConcurrency())

	d = NewWithStore(&destination.Config{
		Bucket:  "sync",
		Options: map[string]string{"max_concurrency": "8"},
	}, NewLocalStore(t.TempDir()))
	assert.Equal(t, 8, d.MaxConcurrency())
}

func TestParquetType(t *testing.T) {
	assert.Equal(t, "type=INT64", parquetType("BIGINT"))
	assert.Equal(t, "type=DOUBLE", parquetType("DOUBLE"))
	assert.Equal(t, "type=BOOLEAN", parquetType("BOOLEAN"))
	assert.Equal(t, "type=BYTE_ARRAY, convertedtype=UTF8", parquetType("VARCHAR"))
	assert.Equal(t, "type=BYTE_ARRAY, convertedtype=UTF8", parquetType("TIMESTAMP"))
	assert.Equal(t, "type=BYTE_ARRAY, convertedtype=UTF8", parquetType("DECIMAL(10,2)"))
}
