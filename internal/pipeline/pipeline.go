// Package pipeline runs the extract-transform-load loop that converts raw
// input rows into typed dataset records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
)

// BatchExtractor reads up to batchSize raw records from the source. It
// returns io.EOF once the source is exhausted.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error)
}

// Transformer converts a raw record into zero or more typed records.
type Transformer[T any] interface {
	Transform(ctx context.Context, raw domain.RawRecord) ([]T, error)
}

// BatchLoader writes typed records to the destination.
type BatchLoader[T any] interface {
	LoadBatch(ctx context.Context, records []T) error
}

// Stats summarizes a completed run.
type Stats struct {
	Read    int64
	Written int64
	Skipped int64
}

// Pipeline orchestrates the extract-transform-load loop for one input.
type Pipeline[T any] struct {
	dataset     string
	extractor   BatchExtractor
	transformer Transformer[T]
	loader      BatchLoader[T]
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
}

// New creates a Pipeline for a dataset kind with the given stages.
func New[T any](kind domain.DatasetKind, e BatchExtractor, t Transformer[T], l BatchLoader[T], logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline[T] {
	return &Pipeline[T]{
		dataset:     string(kind),
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// Run processes batches until the extractor reports io.EOF. Rows that fail
// to transform are logged, counted, and skipped. Extract and load failures
// stop the run.
func (p *Pipeline[T]) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("extract batch: %w", err)
		}
		if len(rawBatch) == 0 {
			continue
		}

		stats.Read += int64(len(rawBatch))
		p.metrics.RowsRead.WithLabelValues(p.dataset).Add(float64(len(rawBatch)))
		p.metrics.BatchSize.Observe(float64(len(rawBatch)))

		outBatch := p.transform(ctx, rawBatch, &stats)
		if len(outBatch) == 0 {
			continue
		}
		if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
			return stats, fmt.Errorf("load batch: %w", err)
		}
		stats.Written += int64(len(outBatch))
		p.metrics.RowsWritten.WithLabelValues(p.dataset).Add(float64(len(outBatch)))
	}

	p.metrics.ConversionDuration.WithLabelValues(p.dataset).Observe(time.Since(start).Seconds())
	p.logger.Debug("pipeline finished",
		"dataset", p.dataset,
		"read", stats.Read,
		"written", stats.Written,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func (p *Pipeline[T]) transform(ctx context.Context, rawBatch []domain.RawRecord, stats *Stats) []T {
	outBatch := make([]T, 0, len(rawBatch))
	for _, raw := range rawBatch {
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("transform failed, skipping row",
				"error", err,
				"dataset", p.dataset,
				"source", raw.Source,
				"line", raw.Line,
			)
			p.metrics.TransformErrors.WithLabelValues(p.dataset).Inc()
			stats.Skipped++
			continue
		}
		outBatch = append(outBatch, out...)
	}
	return outBatch
}
