// Package databricks implements the lakehouse destination, writing to
// Delta tables over a Databricks SQL warehouse.
package databricks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/databricks/databricks-sql-go" // databricks driver

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/destination"
)

func init() {
	destination.Register("databricks", func(cfg *destination.Config) (destination.Destination, error) {
		return New(cfg)
	})
}

// Dest writes batches to Delta tables using MERGE statements.
type Dest struct {
	cfg    *destination.Config
	db     *sql.DB
	schema string
}

// New creates a databricks destination from cfg. The connection is not
// established until Open.
func New(cfg *destination.Config) (*Dest, error) {
	if cfg.Host == "" {
		return nil, errors.New("databricks destination requires a host")
	}
	if cfg.HTTPPath == "" {
		return nil, errors.New("databricks destination requires an http_path")
	}
	if cfg.Token == "" {
		return nil, errors.New("databricks destination requires a token")
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "default"
	}
	return &Dest{cfg: cfg, schema: schema}, nil
}

// Open connects to the SQL warehouse and verifies the connection.
func (d *Dest) Open(ctx context.Context) error {
	port := d.cfg.Port
	if port == 0 {
		port = 443
	}
	dsn := fmt.Sprintf("token:%s@%s:%d%s", d.cfg.Token, d.cfg.Host, port, d.cfg.HTTPPath)

	db, err := sql.Open("databricks", dsn)
	if err != nil {
		return destination.NewWriteError("connect_failed", true, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return destination.NewWriteError("connect_failed", true,
			fmt.Errorf("failed to ping databricks warehouse: %w", err))
	}
	d.db = db
	return nil
}

// Close closes the warehouse connection.
func (d *Dest) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// EnsureTable creates the Delta table if it does not exist.
func (d *Dest) EnsureTable(ctx context.Context, t *catalog.Table) error {
	defs := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(col.Name), mapType(col.Type)))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) USING DELTA",
		d.qualified(t.Name), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return destination.NewWriteError("ddl_failed", false,
			fmt.Errorf("failed to ensure table %s: %w", t.Name, err))
	}
	return nil
}

// WriteBatch merges one batch into the Delta table. Delta commits make
// each statement atomic; the truncate of a full load runs as its own
// statement before the first merge.
func (d *Dest) WriteBatch(ctx context.Context, b *destination.Batch) error {
	if b.FullLoad && b.Seq == 0 {
		if _, err := d.db.ExecContext(ctx, "TRUNCATE TABLE "+d.qualified(b.Table)); err != nil {
			return destination.NewWriteError("truncate_failed", true,
				fmt.Errorf("failed to truncate %s: %w", b.Table, err))
		}
	}
	if len(b.Rows) == 0 {
		return nil
	}

	var query string
	var args []any
	if len(b.PrimaryKey) > 0 {
		query, args = d.buildMerge(b)
	} else {
		query, args = d.buildInsert(b)
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return destination.NewWriteError("merge_failed", true,
			fmt.Errorf("failed to merge batch into %s: %w", b.Table, err))
	}
	return nil
}

// buildMerge renders a MERGE INTO ... USING (VALUES ...) statement.
func (d *Dest) buildMerge(b *destination.Batch) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s AS t USING (VALUES ", d.qualified(b.Table))

	args := make([]any, 0, len(b.Rows)*len(b.Columns))
	for i, row := range b.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range b.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, row[j])
		}
		sb.WriteString(")")
	}

	cols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = quoteIdent(c)
	}
	fmt.Fprintf(&sb, ") AS s (%s) ON ", strings.Join(cols, ", "))

	conds := make([]string, len(b.PrimaryKey))
	for i, k := range b.PrimaryKey {
		conds[i] = fmt.Sprintf("t.%s = s.%s", quoteIdent(k), quoteIdent(k))
	}
	sb.WriteString(strings.Join(conds, " AND "))

	pk := make(map[string]bool, len(b.PrimaryKey))
	for _, k := range b.PrimaryKey {
		pk[k] = true
	}
	var sets []string
	for _, col := range b.Columns {
		if !pk[col] {
			sets = append(sets, fmt.Sprintf("t.%s = s.%s", quoteIdent(col), quoteIdent(col)))
		}
	}
	if len(sets) > 0 {
		fmt.Fprintf(&sb, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}

	vals := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		vals[i] = "s." + quoteIdent(c)
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(vals, ", "))

	return sb.String(), args
}

// buildInsert renders a plain multi-row INSERT for keyless tables.
func (d *Dest) buildInsert(b *destination.Batch) (string, []any) {
	cols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = quoteIdent(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", d.qualified(b.Table), strings.Join(cols, ", "))

	args := make([]any, 0, len(b.Rows)*len(b.Columns))
	for i, row := range b.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range b.Columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, row[j])
		}
		sb.WriteString(")")
	}
	return sb.String(), args
}

func (d *Dest) qualified(table string) string {
	if d.cfg.Catalog != "" {
		return quoteIdent(d.cfg.Catalog) + "." + quoteIdent(d.schema) + "." + quoteIdent(table)
	}
	return quoteIdent(d.schema) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// mapType translates a DuckDB column type to its Spark SQL equivalent.
func mapType(duckType string) string {
	upper := strings.ToUpper(strings.TrimSpace(duckType))
	if strings.HasPrefix(upper, "DECIMAL") {
		return upper
	}
	switch {
	case upper == "UTINYINT", upper == "USMALLINT":
		return "INT"
	case upper == "UINTEGER", upper == "UBIGINT", upper == "HUGEINT":
		return "BIGINT"
	case upper == "INTEGER":
		return "INT"
	case upper == "BLOB":
		return "BINARY"
	case upper == "REAL":
		return "FLOAT"
	case strings.HasPrefix(upper, "VARCHAR"), upper == "TEXT":
		return "STRING"
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return "TIMESTAMP"
	default:
		return upper
	}
}
