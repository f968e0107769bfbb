// Package postgres implements the relational destination. It targets any
// PostgreSQL-compatible server, including hosted variants.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/nwdata/tablesync/internal/catalog"
	"github.com/nwdata/tablesync/internal/destination"
)

func init() {
	destination.Register("postgres", func(cfg *destination.Config) (destination.Destination, error) {
		return New(cfg)
	})
}

// Dest writes batches to a PostgreSQL database using transactional
// multi-row upserts.
type Dest struct {
	cfg    *destination.Config
	db     *sql.DB
	schema string
}

// New creates a postgres destination from cfg. The connection is not
// established until Open.
func New(cfg *destination.Config) (*Dest, error) {
	if cfg.Host == "" {
		return nil, errors.New("postgres destination requires a host")
	}
	if cfg.Database == "" {
		return nil, errors.New("postgres destination requires a database")
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Dest{cfg: cfg, schema: schema}, nil
}

// Open connects and verifies the connection.
func (d *Dest) Open(ctx context.Context) error {
	db, err := sql.Open("pgx", d.dsn())
	if err != nil {
		return destination.NewWriteError("connect_failed", true, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return classify(fmt.Errorf("failed to ping postgres: %w", err))
	}
	d.db = db
	return nil
}

// Close closes the connection.
func (d *Dest) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *Dest) dsn() string {
	port := d.cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := d.cfg.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		d.cfg.Host, port, d.cfg.Database, sslmode)
	if d.cfg.User != "" {
		dsn += fmt.Sprintf(" user=%s", d.cfg.User)
	}
	if d.cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", d.cfg.Password)
	}
	return dsn
}

const pkExistsQuery = `SELECT EXISTS (SELECT 1 FROM pg_constraint c JOIN pg_class r ON r.oid = c.conrelid JOIN pg_namespace n ON n.oid = r.relnamespace WHERE c.contype = 'p' AND r.relname = $1 AND n.nspname = $2)`

const constraintExistsQuery = `SELECT EXISTS (SELECT 1 FROM pg_constraint c JOIN pg_namespace n ON n.oid = c.connamespace WHERE c.conname = $1 AND n.nspname = $2)`

// EnsureTable creates the target table if it does not exist, mapping
// source column types to their PostgreSQL equivalents. Pre-existing
// tables get a missing primary key retrofitted, and foreign-key
// constraints from the source metadata are added. Tables arrive in
// dependency order, so referenced tables exist before their dependents.
func (d *Dest) EnsureTable(ctx context.Context, t *catalog.Table) error {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		def := fmt.Sprintf("%s %s", quoteIdent(col.Name), mapType(col.Type))
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(t.PrimaryKey)))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.qualified(t.Name), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return classify(fmt.Errorf("failed to ensure table %s: %w", t.Name, err))
	}

	if err := d.ensurePrimaryKey(ctx, t); err != nil {
		return err
	}
	return d.ensureForeignKeys(ctx, t)
}

// ensurePrimaryKey adds the primary key to a table created before the
// key was known at the source.
func (d *Dest) ensurePrimaryKey(ctx context.Context, t *catalog.Table) error {
	if len(t.PrimaryKey) == 0 {
		return nil
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx, pkExistsQuery, t.Name, d.schema).Scan(&exists); err != nil {
		return classify(fmt.Errorf("failed to check primary key on %s: %w", t.Name, err))
	}
	if exists {
		return nil
	}
	ddl := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
		d.qualified(t.Name), quoteAll(t.PrimaryKey))
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return classify(fmt.Errorf("failed to add primary key on %s: %w", t.Name, err))
	}
	return nil
}

// ensureForeignKeys mirrors the source foreign keys on the target so
// referential integrity holds at the destination too.
func (d *Dest) ensureForeignKeys(ctx context.Context, t *catalog.Table) error {
	for _, fk := range t.ForeignKeys {
		name := fmt.Sprintf("fk_%s_%s", t.Name, fk.Column)
		var exists bool
		if err := d.db.QueryRowContext(ctx, constraintExistsQuery, name, d.schema).Scan(&exists); err != nil {
			return classify(fmt.Errorf("failed to check constraint %s: %w", name, err))
		}
		if exists {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.qualified(t.Name), quoteIdent(name), quoteIdent(fk.Column),
			d.qualified(fk.RefTable), quoteIdent(fk.RefColumn))
		if fk.OnUpdate != "" {
			ddl += " ON UPDATE " + strings.ToUpper(fk.OnUpdate)
		}
		if fk.OnDelete != "" {
			ddl += " ON DELETE " + strings.ToUpper(fk.OnDelete)
		}
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return classify(fmt.Errorf("failed to add foreign key %s: %w", name, err))
		}
	}
	return nil
}

// WriteBatch applies one batch inside a transaction. The first batch of
// a full load truncates the target in the same transaction, so a failed
// full load leaves the previous contents intact.
func (d *Dest) WriteBatch(ctx context.Context, b *Batch) error {
	if len(b.Rows) == 0 && !(b.FullLoad && b.Seq == 0) {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if b.FullLoad && b.Seq == 0 {
		if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+d.qualified(b.Table)+" CASCADE"); err != nil {
			return classify(fmt.Errorf("failed to truncate %s: %w", b.Table, err))
		}
	}

	if len(b.Rows) > 0 {
		query, args := d.buildUpsert(b)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify(fmt.Errorf("failed to upsert into %s: %w", b.Table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit batch for %s: %w", b.Table, err))
	}
	return nil
}

// Batch aliases the shared batch type for readability within the package.
type Batch = destination.Batch

// buildUpsert renders a multi-row INSERT ... ON CONFLICT statement. With
// no primary key the conflict clause is omitted and rows append.
func (d *Dest) buildUpsert(b *Batch) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		d.qualified(b.Table), quoteAll(b.Columns))

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
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[j])
		}
		sb.WriteString(")")
	}

	if len(b.PrimaryKey) > 0 {
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET ", quoteAll(b.PrimaryKey))
		pk := make(map[string]bool, len(b.PrimaryKey))
		for _, k := range b.PrimaryKey {
			pk[k] = true
		}
		first := true
		for _, col := range b.Columns {
			if pk[col] {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col))
			first = false
		}
		if first {
			// Every column is part of the key; nothing to update.
			sb.Reset()
			return d.buildInsertNothing(b)
		}
	}
	return sb.String(), args
}

// buildInsertNothing renders an INSERT ... ON CONFLICT DO NOTHING for
// tables whose columns are all key columns.
func (d *Dest) buildInsertNothing(b *Batch) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		d.qualified(b.Table), quoteAll(b.Columns))

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
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[j])
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", quoteAll(b.PrimaryKey))
	return sb.String(), args
}

func (d *Dest) qualified(table string) string {
	return quoteIdent(d.schema) + "." + quoteIdent(table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// mapType translates a DuckDB column type to its PostgreSQL equivalent.
// Unknown types pass through unchanged; DECIMAL keeps its precision.
func mapType(duckType string) string {
	upper := strings.ToUpper(strings.TrimSpace(duckType))
	if strings.HasPrefix(upper, "DECIMAL") {
		return strings.Replace(upper, "DECIMAL", "NUMERIC", 1)
	}
	switch {
	case upper == "TINYINT":
		return "SMALLINT"
	case upper == "UTINYINT", upper == "USMALLINT":
		return "INTEGER"
	case upper == "UINTEGER", upper == "UBIGINT", upper == "HUGEINT":
		return "BIGINT"
	case upper == "DOUBLE":
		return "DOUBLE PRECISION"
	case upper == "FLOAT", upper == "REAL":
		return "REAL"
	case upper == "BLOB":
		return "BYTEA"
	case strings.HasPrefix(upper, "VARCHAR"), upper == "STRING", upper == "TEXT":
		return "TEXT"
	case strings.HasPrefix(upper, "TIMESTAMP WITH TIME ZONE"), upper == "TIMESTAMPTZ":
		return "TIMESTAMPTZ"
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return "TIMESTAMP"
	default:
		return upper
	}
}

// classify maps a postgres error to a WriteError with a transience flag.
// Constraint and syntax failures are permanent; connection and resource
// exhaustion are transient, as is anything unrecognized.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch class {
		case "23", "42", "22":
			return destination.NewWriteError("sqlstate_"+pgErr.Code, false, err)
		case "08", "53", "57":
			return destination.NewWriteError("sqlstate_"+pgErr.Code, true, err)
		default:
			return destination.NewWriteError("sqlstate_"+pgErr.Code, true, err)
		}
	}
	return destination.NewWriteError("write_failed", true, err)
}
