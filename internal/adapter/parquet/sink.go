package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go-source/local"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// writeParallelism is the number of goroutines parquet-go uses to encode pages.
const writeParallelism = 4

// Sink writes records of one dataset kind to a single Parquet file. Records
// go to a temporary file that replaces the target only on a clean Close, so
// a failed conversion never leaves a partial dataset behind.
// It implements pipeline.BatchLoader.
type Sink[T any] struct {
	path    string
	tmpPath string
	file    source.ParquetFile
	pw      *writer.ParquetWriter
	toRow   func(T) (any, error)
	written int64
}

// NewTimeseriesSink creates a sink for primary or secondary timeseries.
func NewTimeseriesSink(path, compression string) (*Sink[domain.Timeseries], error) {
	return newSink(path, compression, new(timeseriesRow), toTimeseriesRow)
}

// NewCrosswalkSink creates a sink for location crosswalks.
func NewCrosswalkSink(path, compression string) (*Sink[domain.Crosswalk], error) {
	return newSink(path, compression, new(crosswalkRow), toCrosswalkRow)
}

// NewAttributeSink creates a sink for location attributes.
func NewAttributeSink(path, compression string) (*Sink[domain.Attribute], error) {
	return newSink(path, compression, new(attributeRow), toAttributeRow)
}

// NewLocationSink creates a sink for location geometry.
func NewLocationSink(path, compression string) (*Sink[domain.Location], error) {
	return newSink(path, compression, new(locationRow), toLocationRow)
}

func newSink[T any](path, compression string, prototype any, toRow func(T) (any, error)) (*Sink[T], error) {
	codec, err := CompressionCodec(compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := path + ".tmp"
	fw, err := local.NewLocalFileWriter(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create parquet file %s: %w", tmpPath, err)
	}
	pw, err := writer.NewParquetWriter(fw, prototype, writeParallelism)
	if err != nil {
		fw.Close()         //nolint:errcheck // already failing
		os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	return &Sink[T]{path: path, tmpPath: tmpPath, file: fw, pw: pw, toRow: toRow}, nil
}

// LoadBatch converts and writes records.
func (s *Sink[T]) LoadBatch(_ context.Context, records []T) error {
	for _, rec := range records {
		row, err := s.toRow(rec)
		if err != nil {
			return err
		}
		if err := s.pw.Write(row); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
		s.written++
	}
	return nil
}

// Written returns the number of records written so far.
func (s *Sink[T]) Written() int64 { return s.written }

// Path returns the final output path.
func (s *Sink[T]) Path() string { return s.path }

// Close flushes the footer and moves the file into place.
func (s *Sink[T]) Close() error {
	var result error
	if err := stopWriter(s.pw.WriteStop); err != nil {
		result = multierror.Append(result, fmt.Errorf("finalize parquet %s: %w", s.path, err))
	}
	if err := s.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close parquet %s: %w", s.path, err))
	}
	if result != nil {
		os.Remove(s.tmpPath) //nolint:errcheck // best-effort cleanup
		return result
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return fmt.Errorf("move parquet into place: %w", err)
	}
	return nil
}

// Abort discards everything written.
func (s *Sink[T]) Abort() {
	stopWriter(s.pw.WriteStop) //nolint:errcheck // discarding output
	s.file.Close()             //nolint:errcheck // discarding output
	os.Remove(s.tmpPath)       //nolint:errcheck // best-effort cleanup
}

// stopWriter converts parquet-go panics during footer writes into errors.
func stopWriter(stop func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	return stop()
}

// CompressionCodec maps a configured compression name to a Parquet codec.
func CompressionCodec(name string) (pq.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return pq.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return pq.CompressionCodec_GZIP, nil
	case "NONE", "":
		return pq.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}
