package domain

import (
	"fmt"
	"slices"
	"time"
)

// FieldTimestamp marks a column holding times. It is a Table column type,
// not a calculated-field storage class.
const FieldTimestamp FieldType = "TIMESTAMP"

// Table is a query result: ordered columns with their types and row values.
// Values are string, int64, float64, time.Time or nil.
type Table struct {
	Columns []string
	Types   []FieldType
	Rows    [][]any
}

// Index returns the column position or -1.
func (t Table) Index(column string) int {
	return slices.Index(t.Columns, column)
}

// Records returns rows as column -> value maps for JSON encoding. Times are
// RFC 3339 strings; nil values are kept so every record has every column.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, col := range t.Columns {
			if ts, ok := row[j].(time.Time); ok {
				rec[col] = ts.UTC().Format(time.RFC3339)
				continue
			}
			rec[col] = row[j]
		}
		out[i] = rec
	}
	return out
}

// FormatValue renders a cell for text output (CSV). nil becomes "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
