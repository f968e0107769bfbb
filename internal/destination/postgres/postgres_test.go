package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/destination"
)

func newTestDest(t *testing.T) (*Dest, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	d, err := New(&destination.Config{
		Type: "postgres", Host: "localhost", Database: "sync", Schema: "public",
	})
	require.NoError(t, err)
	d.db = db
	return d, mock
}

func TestNewValidation(t *testing.T) {
	_, err := New(&destination.Config{Type: "postgres", Database: "sync"})
	assert.Error(t, err, "host is required")

	_, err = New(&destination.Config{Type: "postgres", Host: "h"})
	assert.Error(t, err, "database is required")
}

func TestDSN(t *testing.T) {
	d, err := New(&destination.Config{
		Host: "db.example.com", Port: 6543, Database: "app",
		User: "svc", Password: "secret", SSLMode: "require",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"host=db.example.com port=6543 dbname=app sslmode=require user=svc password=secret",
		d.dsn())
}

func TestEnsureTable(t *testing.T) {
	d, mock := newTestDest(t)

	tbl := &catalog.Table{
		Name: "pedidos",
		Columns: []catalog.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "total", Type: "DECIMAL(10,2)", Nullable: true},
			{Name: "updated_at", Type: "TIMESTAMP", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."pedidos" ` +
		`("id" INTEGER NOT NULL, "total" NUMERIC(10,2), "updated_at" TIMESTAMP, PRIMARY KEY ("id"))`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(pkExistsQuery).
		WithArgs("pedidos", "public").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, d.EnsureTable(context.Background(), tbl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableRetrofitsPrimaryKey(t *testing.T) {
	d, mock := newTestDest(t)

	tbl := &catalog.Table{
		Name:       "clientes",
		Columns:    []catalog.Column{{Name: "id", Type: "INTEGER"}},
		PrimaryKey: []string{"id"},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."clientes" ("id" INTEGER NOT NULL, PRIMARY KEY ("id"))`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(pkExistsQuery).
		WithArgs("clientes", "public").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`ALTER TABLE "public"."clientes" ADD PRIMARY KEY ("id")`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, d.EnsureTable(context.Background(), tbl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableAddsForeignKeys(t *testing.T) {
	d, mock := newTestDest(t)

	tbl := &catalog.Table{
		Name: "itens_pedido",
		Columns: []catalog.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "pedido_id", Type: "INTEGER", Nullable: true},
			{Name: "produto_id", Type: "INTEGER", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []catalog.ForeignKey{
			{Column: "pedido_id", RefTable: "pedidos", RefColumn: "id", OnDelete: "cascade"},
			{Column: "produto_id", RefTable: "produtos", RefColumn: "id"},
		},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."itens_pedido" ` +
		`("id" INTEGER NOT NULL, "pedido_id" INTEGER, "produto_id" INTEGER, PRIMARY KEY ("id"))`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(pkExistsQuery).
		WithArgs("itens_pedido", "public").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(constraintExistsQuery).
		WithArgs("fk_itens_pedido_pedido_id", "public").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`ALTER TABLE "public"."itens_pedido" ADD CONSTRAINT "fk_itens_pedido_pedido_id" ` +
		`FOREIGN KEY ("pedido_id") REFERENCES "public"."pedidos" ("id") ON DELETE CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The second constraint already exists and is left alone.
	mock.ExpectQuery(constraintExistsQuery).
		WithArgs("fk_itens_pedido_produto_id", "public").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, d.EnsureTable(context.Background(), tbl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchUpsert(t *testing.T) {
	d, mock := newTestDest(t)

	b := &destination.Batch{
		Table:      "clientes",
		Columns:    []string{"id", "nome"},
		PrimaryKey: []string{"id"},
		Rows:       [][]any{{1, "ana"}, {2, "bruno"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "public"."clientes" ("id", "nome") VALUES ($1, $2), ($3, $4) `+
		`ON CONFLICT ("id") DO UPDATE SET "nome" = EXCLUDED."nome"`).
		WithArgs(1, "ana", 2, "bruno").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, d.WriteBatch(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchFullLoadTruncates(t *testing.T) {
	d, mock := newTestDest(t)

	b := &destination.Batch{
		Table:      "clientes",
		Columns:    []string{"id", "nome"},
		PrimaryKey: []string{"id"},
		Rows:       [][]any{{1, "ana"}},
		Seq:        0,
		FullLoad:   true,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE TABLE "public"."clientes" CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "public"."clientes" ("id", "nome") VALUES ($1, $2) `+
		`ON CONFLICT ("id") DO UPDATE SET "nome" = EXCLUDED."nome"`).
		WithArgs(1, "ana").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, d.WriteBatch(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchLaterFullLoadBatchDoesNotTruncate(t *testing.T) {
	d, mock := newTestDest(t)

	b := &destination.Batch{
		Table:      "clientes",
		Columns:    []string{"id", "nome"},
		PrimaryKey: []string{"id"},
		Rows:       [][]any{{3, "clara"}},
		Seq:        1,
		FullLoad:   true,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "public"."clientes" ("id", "nome") VALUES ($1, $2) `+
		`ON CONFLICT ("id") DO UPDATE SET "nome" = EXCLUDED."nome"`).
		WithArgs(3, "clara").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, d.WriteBatch(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchRollsBackOnFailure(t *testing.T) {
	d, mock := newTestDest(t)

	b := &destination.Batch{
		Table:      "clientes",
		Columns:    []string{"id"},
		PrimaryKey: []string{"id"},
		Rows:       [][]any{{1}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "public"."clientes" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING`).
		WithArgs(1).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := d.WriteBatch(context.Background(), b)
	require.Error(t, err)
	assert.True(t, destination.IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapType(t *testing.T) {
	cases := map[string]string{
		"TINYINT":       "SMALLINT",
		"DOUBLE":        "DOUBLE PRECISION",
		"BLOB":          "BYTEA",
		"DECIMAL(10,2)": "NUMERIC(10,2)",
		"VARCHAR":       "TEXT",
		"TIMESTAMP":     "TIMESTAMP",
		"TIMESTAMPTZ":   "TIMESTAMPTZ",
		"INTEGER":       "INTEGER",
		"UBIGINT":       "BIGINT",
		"BOOLEAN":       "BOOLEAN",
	}
	for input, want := range cases {
		assert.Equal(t, want, mapType(input), "input %q", input)
	}
}

func TestClassify(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	err := classify(unique)
	assert.False(t, destination.IsTransient(err), "constraint violations are permanent")

	conn := &pgconn.PgError{Code: "08006"}
	err = classify(conn)
	assert.True(t, destination.IsTransient(err), "connection failures are transient")

	err = classify(errors.New("plain"))
	assert.True(t, destination.IsTransient(err), "unknown errors default to transient")
}
