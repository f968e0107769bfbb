package changes

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwdata/tablesync/internal/catalog"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE clientes (
		id INTEGER PRIMARY KEY,
		nome VARCHAR,
		updated_at TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO clientes VALUES
		(1, 'ana',   TIMESTAMP '2026-01-01 10:00:00'),
		(2, 'bruno', TIMESTAMP '2026-02-01 10:00:00'),
		(3, 'clara', TIMESTAMP '2026-03-01 10:00:00')`)
	require.NoError(t, err)
	return db
}

func clientesTable() *catalog.Table {
	return &catalog.Table{
		Name: "clientes",
		Columns: []catalog.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "nome", Type: "VARCHAR"},
			{Name: "updated_at", Type: "TIMESTAMP"},
		},
		PrimaryKey:   []string{"id"},
		UpdateColumn: "updated_at",
	}
}

func TestDetectFullLoadWithoutWatermark(t *testing.T) {
	db := openTestDB(t)

	cs, err := NewDetector(db, nil).Detect(context.Background(), clientesTable(), nil)
	require.NoError(t, err)

	assert.True(t, cs.IsFullLoad)
	assert.Equal(t, 3, cs.Count())
	assert.Equal(t, []string{"id", "nome", "updated_at"}, cs.Columns)
	assert.Equal(t, []string{"id"}, cs.PrimaryKey)
}

func TestDetectIncremental(t *testing.T) {
	db := openTestDB(t)

	watermark := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	cs, err := NewDetector(db, nil).Detect(context.Background(), clientesTable(), &watermark)
	require.NoError(t, err)

	assert.False(t, cs.IsFullLoad)
	require.Equal(t, 2, cs.Count())
	// Ordered by updated_at, so bruno comes before clara.
	assert.EqualValues(t, 2, cs.Rows[0][0])
	assert.EqualValues(t, 3, cs.Rows[1][0])
}

func TestDetectNoChanges(t *testing.T) {
	db := openTestDB(t)

	watermark := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	cs, err := NewDetector(db, nil).Detect(context.Background(), clientesTable(), &watermark)
	require.NoError(t, err)

	assert.False(t, cs.IsFullLoad)
	assert.Zero(t, cs.Count())
}

func TestDetectFullLoadWithoutUpdateColumn(t *testing.T) {
	db := openTestDB(t)

	tbl := clientesTable()
	tbl.UpdateColumn = ""
	watermark := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	cs, err := NewDetector(db, nil).Detect(context.Background(), tbl, &watermark)
	require.NoError(t, err)

	assert.True(t, cs.IsFullLoad, "table without update column always loads fully")
	assert.Equal(t, 3, cs.Count())
}

func TestBuildSelect(t *testing.T) {
	tbl := clientesTable()
	watermark := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	query, args := buildSelect(tbl, &watermark)
	assert.Equal(t,
		`SELECT "id", "nome", "updated_at" FROM "clientes" WHERE "updated_at" > ? ORDER BY "updated_at", "id"`,
		query)
	require.Len(t, args, 1)

	query, args = buildSelect(tbl, nil)
	assert.Equal(t,
		`SELECT "id", "nome", "updated_at" FROM "clientes" ORDER BY "updated_at", "id"`,
		query)
	assert.Empty(t, args)
}
