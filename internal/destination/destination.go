// Package destination defines the interface every sync target implements
// and the registry that maps configured destination types to factories.
package destination

import (
	"context"
	"strings"

	"github.com/nwdata/tablesync/internal/catalog"
)

// Config carries the connection settings for one destination. Fields not
// relevant to a given destination type are ignored by it.
type Config struct {
	Type string `koanf:"type"`

	// Relational settings.
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`

	// Object-store settings.
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`

	// Lakehouse settings.
	HTTPPath string `koanf:"http_path"`
	Token    string `koanf:"token"`
	Catalog  string `koanf:"catalog"`

	// Options holds destination-specific extras.
	Options map[string]string `koanf:"options"`
}

// Batch is one slice of a table's changed rows, delivered in order.
// Seq starts at zero within each table and run.
type Batch struct {
	Table      string
	Columns    []string
	PrimaryKey []string
	Rows       [][]any
	Seq        int

	// FullLoad marks a full-table replacement. On the first batch the
	// destination clears existing data before writing.
	FullLoad bool

	// RunID identifies the sync run producing this batch.
	RunID string
}

// Destination is the interface all sync targets implement. Batches for a
// single table arrive sequentially and in order; EnsureTable is called
// once per table before its first batch.
type Destination interface {
	// Open establishes the connection and verifies credentials.
	Open(ctx context.Context) error

	// Close releases the connection. Safe to call after a failed Open.
	Close() error

	// EnsureTable creates or verifies the target structure for t.
	EnsureTable(ctx context.Context, t *catalog.Table) error

	// WriteBatch applies one batch atomically. A returned error means the
	// batch left no partial data behind.
	WriteBatch(ctx context.Context, b *Batch) error
}

// ConcurrentWriter is implemented by destinations whose batches for one
// table may be written in parallel. Relational targets stay sequential
// because their batches can touch overlapping keys.
type ConcurrentWriter interface {
	MaxConcurrency() int
}

// Normalize maps the configured destination type, including legacy
// aliases, to a registered adapter name.
func Normalize(destType string) string {
	switch strings.ToUpper(strings.TrimSpace(destType)) {
	case "SUPABASE", "RELATIONAL", "POSTGRES":
		return "postgres"
	case "S3", "OBJECT_STORE", "OBJECTSTORE":
		return "objectstore"
	case "DATABRICKS", "LAKEHOUSE":
		return "databricks"
	default:
		return strings.ToLower(strings.TrimSpace(destType))
	}
}
