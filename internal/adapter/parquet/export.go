package parquet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// schemaNode is parquet-go's JSON schema format.
type schemaNode struct {
	Tag    string       `json:"Tag"`
	Fields []schemaNode `json:"Fields,omitempty"`
}

// tableSchema builds a JSON schema for a table's columns. Every column is
// OPTIONAL because attribute and calculated columns may be null.
func tableSchema(t domain.Table) (string, error) {
	root := schemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for i, col := range t.Columns {
		var typ string
		switch t.Types[i] {
		case domain.FieldText:
			typ = "type=BYTE_ARRAY, convertedtype=UTF8"
		case domain.FieldInteger:
			typ = "type=INT64"
		case domain.FieldReal:
			typ = "type=DOUBLE"
		case domain.FieldTimestamp:
			typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
		default:
			return "", fmt.Errorf("column %s: unsupported type %q", col, t.Types[i])
		}
		root.Fields = append(root.Fields, schemaNode{
			Tag: fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", col, typ),
		})
	}
	b, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("encode parquet schema: %w", err)
	}
	return string(b), nil
}

// ExportTable writes a query result, typically the joined timeseries, to a
// single Parquet file and returns the number of rows written.
func ExportTable(path string, t domain.Table, compression string) (int64, error) {
	codec, err := CompressionCodec(compression)
	if err != nil {
		return 0, err
	}
	schema, err := tableSchema(t)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create parquet file %s: %w", tmpPath, err)
	}
	jw, err := writer.NewJSONWriter(schema, fw, writeParallelism)
	if err != nil {
		fw.Close()         //nolint:errcheck // already failing
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return 0, fmt.Errorf("create parquet writer: %w", err)
	}
	jw.CompressionType = codec

	var written int64
	var result error
	for _, row := range t.Rows {
		rec, err := rowJSON(t.Columns, row)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := jw.Write(rec); err != nil {
			result = multierror.Append(result, fmt.Errorf("write parquet row: %w", err))
			break
		}
		written++
	}

	if err := stopWriter(jw.WriteStop); err != nil {
		result = multierror.Append(result, fmt.Errorf("finalize parquet %s: %w", path, err))
	}
	if err := fw.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close parquet %s: %w", path, err))
	}
	if result != nil {
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return 0, result
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("move parquet into place: %w", err)
	}
	return written, nil
}

func rowJSON(columns []string, row []any) (string, error) {
	rec := make(map[string]any, len(columns))
	for i, col := range columns {
		switch v := row[i].(type) {
		case nil:
		case time.Time:
			rec[col] = v.UnixMilli()
		default:
			rec[col] = v
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(b), nil
}
