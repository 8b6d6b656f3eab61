// Package csvsource reads delimited text files as batches of raw records.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// Reader streams rows of a CSV file with a header line. It implements
// pipeline.BatchExtractor.
type Reader struct {
	source string
	csv    *csv.Reader
	closer io.Closer
	header []string
	done   bool
}

// Open opens a CSV file and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	r, err := New(path, f)
	if err != nil {
		f.Close() //nolint:errcheck // already failing
		return nil, err
	}
	r.closer = f
	return r, nil
}

// New wraps an io.Reader. source names the input in record errors.
func New(source string, in io.Reader) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty file", source)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", source, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Reader{source: source, csv: cr, header: header}, nil
}

// Header returns the column names.
func (r *Reader) Header() []string { return r.header }

// ExtractBatch returns up to batchSize rows. It returns io.EOF once the file
// is exhausted and no rows remain.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error) {
	if r.done {
		return nil, io.EOF
	}
	batch := make([]domain.RawRecord, 0, batchSize)
	for len(batch) < batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.source, err)
		}
		line, _ := r.csv.FieldPos(0)

		fields := make(map[string]string, len(r.header))
		for i, col := range r.header {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		batch = append(batch, domain.RawRecord{Source: r.source, Line: line, Fields: fields})
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
