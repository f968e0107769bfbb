package destination

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwdata/tablesync/internal/catalog"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"SUPABASE":     "postgres",
		"supabase":     "postgres",
		"RELATIONAL":   "postgres",
		"postgres":     "postgres",
		"S3":           "objectstore",
		"OBJECT_STORE": "objectstore",
		"DATABRICKS":   "databricks",
		"LAKEHOUSE":    "databricks",
		" s3 ":         "objectstore",
		"custom":       "custom",
	}
	for input, want := range cases {
		assert.Equal(t, want, Normalize(input), "input %q", input)
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("mystery")), "unknown errors default to transient")
	assert.True(t, IsTransient(NewWriteError("conn", true, errors.New("refused"))))
	assert.False(t, IsTransient(NewWriteError("constraint", false, errors.New("violation"))))
}

func TestWriteErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewWriteError("write_failed", true, inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "write_failed")
}

type nopDestination struct{}

func (nopDestination) Open(context.Context) error { return nil }

func (nopDestination) Close() error { return nil }

func (nopDestination) EnsureTable(context.Context, *catalog.Table) error { return nil }

func (nopDestination) WriteBatch(context.Context, *Batch) error { return nil }

func TestRegistry(t *testing.T) {
	Register("nop-test", func(*Config) (Destination, error) {
		return nopDestination{}, nil
	})

	d, err := New(&Config{Type: "nop-test"})
	require.NoError(t, err)
	assert.NotNil(t, d)

	_, err = New(&Config{Type: "missing"})
	var unknownErr *UnknownTypeError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "missing", unknownErr.Type)
	assert.Contains(t, unknownErr.Available, "nop-test")
}
