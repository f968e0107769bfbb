// Package catalog reads table and foreign-key metadata from the source
// DuckDB database. It produces the immutable table descriptors consumed
// by the dependency resolver and the change detector.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// MetadataTable is the bookkeeping table holding per-table schema JSON,
// including foreign-key definitions.
const MetadataTable = "table_metadata"

// LedgerTable is the run ledger table; excluded from the sync set.
const LedgerTable = "controle_cargas"

// DefaultUpdateColumns are the column names recognized as modification
// timestamps, in priority order.
var DefaultUpdateColumns = []string{"updated_at", "modified_at", "last_updated"}

// Column describes a single table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// ForeignKey describes a reference from a column to another table.
// OnUpdate and OnDelete carry the referential actions declared in the
// source metadata, or empty for the database default.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnUpdate  string
	OnDelete  string
}

// Table is the descriptor for one source table. It is rebuilt fresh on
// every run and never mutated afterwards.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey

	// UpdateColumn is the modification-timestamp column used for change
	// detection, or empty when the table has none (full-load fallback).
	UpdateColumn string
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CatalogError indicates missing or malformed source metadata. It aborts
// a run before any writes happen.
type CatalogError struct {
	Table string
	Err   error
}

func (e *CatalogError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("catalog read failed for table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("catalog read failed: %v", e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// Reader reads table descriptors from a DuckDB connection. Read-only.
type Reader struct {
	db            *sql.DB
	logger        *slog.Logger
	updateColumns []string
}

// NewReader creates a catalog reader. If logger is nil, a discard logger
// is used. updateColumns overrides the recognized modification-timestamp
// column names (nil uses DefaultUpdateColumns).
func NewReader(db *sql.DB, logger *slog.Logger, updateColumns []string) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(updateColumns) == 0 {
		updateColumns = DefaultUpdateColumns
	}
	return &Reader{db: db, logger: logger, updateColumns: updateColumns}
}

// Read returns descriptors for all user tables in the source database.
// Engine-owned bookkeeping tables are excluded.
func (r *Reader) Read(ctx context.Context) ([]*Table, error) {
	names, err := r.listTables(ctx)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}

	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}

	fks, err := r.readForeignKeys(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		t, err := r.readTable(ctx, name)
		if err != nil {
			return nil, &CatalogError{Table: name, Err: err}
		}
		for _, fk := range fks[name] {
			if fk.RefTable != name && !known[fk.RefTable] {
				return nil, &CatalogError{
					Table: name,
					Err:   fmt.Errorf("foreign key on %s references unknown table %s", fk.Column, fk.RefTable),
				}
			}
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		tables = append(tables, t)
	}

	r.logger.Debug("catalog read", "tables", len(tables))
	return tables, nil
}

// listTables returns the names of base tables in the main schema, sorted,
// excluding the engine's own bookkeeping tables.
func (r *Reader) listTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if name == MetadataTable || name == LedgerTable {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return names, nil
}

// readTable loads columns and the primary key for a single table.
func (r *Reader) readTable(ctx context.Context, name string) (*Table, error) {
	query := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position
	`
	rows, err := r.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", name)
	}

	pk, err := r.readPrimaryKey(ctx, name)
	if err != nil {
		return nil, err
	}

	t := &Table{Name: name, Columns: columns, PrimaryKey: pk}
	t.UpdateColumn = r.findUpdateColumn(columns)
	return t, nil
}

// readPrimaryKey returns the primary-key column names in key order.
func (r *Reader) readPrimaryKey(ctx context.Context, name string) ([]string, error) {
	// Table functions reject prepared parameters, so the name is inlined.
	query := fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE pk ORDER BY cid",
		strings.ReplaceAll(name, "'", "''"))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column: %w", err)
		}
		pk = append(pk, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary key: %w", err)
	}
	return pk, nil
}

// findUpdateColumn picks the modification-timestamp column, if any.
func (r *Reader) findUpdateColumn(columns []Column) string {
	for _, candidate := range r.updateColumns {
		for _, col := range columns {
			if strings.EqualFold(col.Name, candidate) && strings.Contains(strings.ToUpper(col.Type), "TIMESTAMP") {
				return col.Name
			}
		}
	}
	return ""
}

// columnDef mirrors one entry of table_metadata.schema_json.
type columnDef struct {
	Type       string `json:"type"`
	ForeignKey *fkDef `json:"foreign_key"`
}

type fkDef struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	OnUpdate string `json:"on_update"`
	OnDelete string `json:"on_delete"`
}

// readForeignKeys loads FK definitions from the table_metadata bookkeeping
// table. A missing metadata table or malformed schema JSON is a fatal
// catalog error.
func (r *Reader) readForeignKeys(ctx context.Context) (map[string][]ForeignKey, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT table_name, schema_json FROM %s", MetadataTable))
	if err != nil {
		return nil, &CatalogError{Err: fmt.Errorf("metadata table %s unavailable: %w", MetadataTable, err)}
	}
	defer func() { _ = rows.Close() }()

	fks := make(map[string][]ForeignKey)
	for rows.Next() {
		var table, schemaJSON string
		if err := rows.Scan(&table, &schemaJSON); err != nil {
			return nil, &CatalogError{Err: fmt.Errorf("failed to scan metadata row: %w", err)}
		}

		var schema map[string]columnDef
		if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
			return nil, &CatalogError{Table: table, Err: fmt.Errorf("malformed schema_json: %w", err)}
		}

		for column, def := range schema {
			if def.ForeignKey == nil || def.ForeignKey.Table == "" {
				continue
			}
			fks[table] = append(fks[table], ForeignKey{
				Column:    column,
				RefTable:  def.ForeignKey.Table,
				RefColumn: def.ForeignKey.Column,
				OnUpdate:  def.ForeignKey.OnUpdate,
				OnDelete:  def.ForeignKey.OnDelete,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &CatalogError{Err: fmt.Errorf("error iterating metadata: %w", err)}
	}

	// schema_json is a JSON object; sort for reproducible descriptors.
	for _, list := range fks {
		sort.Slice(list, func(i, j int) bool { return list[i].Column < list[j].Column })
	}
	return fks, nil
}
