package objectstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nwdata/tablesync/internal/catalog"
)

// encodeParquet renders rows as a snappy-compressed Parquet file. All
// fields are optional so NULLs round-trip.
func encodeParquet(t *catalog.Table, columns []string, rows [][]any) ([]byte, error) {
	schema, err := parquetSchema(t, columns)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fw := writerfile.NewWriterFile(&buf)
	pw, err := writer.NewJSONWriter(schema, fw, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = row[i]
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row for %s: %w", t.Name, err)
		}
		if err := pw.Write(string(encoded)); err != nil {
			return nil, fmt.Errorf("failed to write parquet row for %s: %w", t.Name, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file for %s: %w", t.Name, err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet buffer for %s: %w", t.Name, err)
	}
	return buf.Bytes(), nil
}

// parquetSchema builds the JSON schema string expected by the writer.
func parquetSchema(t *catalog.Table, columns []string) (string, error) {
	types := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		types[c.Name] = c.Type
	}

	fields := make([]map[string]string, 0, len(columns))
	for _, col := range columns {
		duckType, ok := types[col]
		if !ok {
			return "", fmt.Errorf("column %s missing from descriptor of %s", col, t.Name)
		}
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col, parquetType(duckType)),
		})
	}

	schema := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to encode parquet schema: %w", err)
	}
	return string(encoded), nil
}

// parquetType maps a source column type to a parquet tag fragment.
// Timestamps, dates, and decimals travel as strings so values stay exact
// across engines.
func parquetType(duckType string) string {
	upper := strings.ToUpper(strings.TrimSpace(duckType))
	switch {
	case upper == "BOOLEAN":
		return "type=BOOLEAN"
	case upper == "TINYINT", upper == "SMALLINT", upper == "INTEGER", upper == "BIGINT",
		upper == "UTINYINT", upper == "USMALLINT", upper == "UINTEGER", upper == "UBIGINT":
		return "type=INT64"
	case upper == "FLOAT", upper == "REAL", upper == "DOUBLE":
		return "type=DOUBLE"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}
