// Package tabular renders query result tables as CSV or JSON.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Write encodes t to w.
func Write(w io.Writer, t domain.Table, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}

// WriteFile encodes t to path using the format implied by its extension.
func WriteFile(path string, t domain.Table) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(out, t, f); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

// WriteCSV writes a header row then one row per record. Nulls are empty cells.
func WriteCSV(w io.Writer, t domain.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			rec[i] = domain.FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type document struct {
	Columns []string         `json:"columns"`
	Data    []map[string]any `json:"data"`
}

// WriteJSON writes {"columns": [...], "data": [{...}, ...]}. The column list
// carries the order that JSON objects lose.
func WriteJSON(w io.Writer, t domain.Table) error {
	doc := document{Columns: t.Columns, Data: t.Records()}
	if doc.Columns == nil {
		doc.Columns = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
