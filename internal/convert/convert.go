// Package convert turns raw CSV and GeoJSON inputs into the Parquet dataset
// layout, one pipeline per input file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/hydroeval/internal/adapter/csvsource"
	"github.com/couchcryptid/hydroeval/internal/adapter/geojson"
	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
	"github.com/couchcryptid/hydroeval/internal/pipeline"
)

// Job describes one input file.
type Job struct {
	Kind    domain.DatasetKind `yaml:"kind"`
	Input   string             `yaml:"path"`
	Mapping domain.Mapping     `yaml:",inline"`

	// GeoJSON only: properties holding the location id and name.
	IDProperty   string `yaml:"id_property"`
	NameProperty string `yaml:"name_property"`
}

// Options configures a Converter.
type Options struct {
	Compression string
	BatchSize   int
	Concurrency int

	// Geocoder fills empty location names. Nil disables enrichment.
	Geocoder domain.Geocoder
}

// Converter writes converted inputs under a Layout.
type Converter struct {
	layout  parquet.Layout
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Converter.
func New(layout parquet.Layout, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Converter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Converter{layout: layout, opts: opts, logger: logger, metrics: metrics}
}

// ErrDuplicateOutput is returned when two inputs of the same kind share a
// file name.
var ErrDuplicateOutput = errors.New("duplicate output")

// ConvertAll converts every job concurrently and records the results in the
// layout manifest. Inputs that would overwrite each other are rejected before
// any job starts. The first failure cancels the remaining jobs.
func (c *Converter) ConvertAll(ctx context.Context, jobs []Job) (domain.Manifest, error) {
	if err := c.checkOutputs(jobs); err != nil {
		return domain.Manifest{}, err
	}
	if err := c.layout.Ensure(); err != nil {
		return domain.Manifest{}, err
	}

	entries := make([]domain.ManifestEntry, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			entry, err := c.Convert(gctx, job)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Manifest{}, err
	}

	manifest := domain.NewManifest(c.mergeManifest(entries))
	if err := c.layout.WriteManifest(manifest); err != nil {
		return domain.Manifest{}, err
	}
	return manifest, nil
}

// checkOutputs rejects jobs whose inputs would be written to the same
// Parquet file.
func (c *Converter) checkOutputs(jobs []Job) error {
	seen := make(map[string]string, len(jobs))
	for _, job := range jobs {
		out := c.layout.Path(job.Kind, job.Input)
		if prev, ok := seen[out]; ok {
			return fmt.Errorf("%w: %s and %s both convert to %s", ErrDuplicateOutput, prev, job.Input, out)
		}
		seen[out] = job.Input
	}
	return nil
}

// mergeManifest keeps entries of an earlier run whose outputs were not
// rewritten by this one.
func (c *Converter) mergeManifest(entries []domain.ManifestEntry) []domain.ManifestEntry {
	prev, err := c.layout.ReadManifest()
	if err != nil {
		return entries
	}
	merged := slices.Clone(entries)
	for _, old := range prev.Entries {
		if !slices.ContainsFunc(entries, func(e domain.ManifestEntry) bool { return e.Output == old.Output }) {
			merged = append(merged, old)
		}
	}
	return merged
}

// Convert runs the pipeline for one job and returns its manifest entry.
func (c *Converter) Convert(ctx context.Context, job Job) (domain.ManifestEntry, error) {
	entry, err := c.convert(ctx, job)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.FilesConverted.WithLabelValues(string(job.Kind), outcome).Inc()
	if err != nil {
		return entry, fmt.Errorf("convert %s %s: %w", job.Kind, job.Input, err)
	}
	c.logger.Info("converted input",
		"dataset", job.Kind,
		"source", job.Input,
		"output", entry.Output,
		"rows", entry.Rows,
		"skipped", entry.Skipped,
	)
	return entry, nil
}

func (c *Converter) convert(ctx context.Context, job Job) (domain.ManifestEntry, error) {
	entry := domain.ManifestEntry{
		Kind:   job.Kind,
		Source: job.Input,
		Output: c.layout.Path(job.Kind, job.Input),
	}
	var stats pipeline.Stats
	var err error

	switch job.Kind {
	case domain.KindPrimary, domain.KindSecondary:
		stats, err = convertCSV[domain.Timeseries](ctx, c, job, entry.Output, domain.TimeseriesFields,
			pipeline.TimeseriesTransformer{Mapping: job.Mapping}, parquet.NewTimeseriesSink)
	case domain.KindCrosswalk:
		stats, err = convertCSV[domain.Crosswalk](ctx, c, job, entry.Output, domain.CrosswalkFields,
			pipeline.CrosswalkTransformer{Mapping: job.Mapping}, parquet.NewCrosswalkSink)
	case domain.KindAttribute:
		stats, err = convertCSV[domain.Attribute](ctx, c, job, entry.Output, []string{domain.FieldLocationID},
			pipeline.AttributeTransformer{Mapping: job.Mapping}, parquet.NewAttributeSink)
	case domain.KindGeometry:
		stats, err = c.convertGeoJSON(ctx, job, entry.Output)
	default:
		return entry, fmt.Errorf("dataset kind %q cannot be converted from raw input", job.Kind)
	}
	entry.Rows, entry.Skipped = stats.Written, stats.Skipped
	return entry, err
}

type sinkFactory[T any] func(path, compression string) (*parquet.Sink[T], error)

func convertCSV[T any](ctx context.Context, c *Converter, job Job, output string, required []string, tfm pipeline.Transformer[T], newSink sinkFactory[T]) (pipeline.Stats, error) {
	src, err := csvsource.Open(job.Input)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer src.Close()

	if err := job.Mapping.Resolve(required, src.Header()); err != nil {
		return pipeline.Stats{}, err
	}
	return run(ctx, c, job.Kind, src, tfm, output, newSink)
}

func (c *Converter) convertGeoJSON(ctx context.Context, job Job, output string) (pipeline.Stats, error) {
	idProp := job.IDProperty
	if idProp == "" {
		idProp = "id"
	}
	src, err := geojson.Open(job.Input, idProp)
	if err != nil {
		return pipeline.Stats{}, err
	}
	tfm := pipeline.NewLocationTransformer(idProp, job.NameProperty, c.opts.Geocoder, c.logger)
	return run[domain.Location](ctx, c, job.Kind, src, tfm, output, parquet.NewLocationSink)
}

func run[T any](ctx context.Context, c *Converter, kind domain.DatasetKind, src pipeline.BatchExtractor, tfm pipeline.Transformer[T], output string, newSink sinkFactory[T]) (pipeline.Stats, error) {
	sink, err := newSink(output, c.opts.Compression)
	if err != nil {
		return pipeline.Stats{}, err
	}
	p := pipeline.New(kind, src, tfm, sink, c.logger, c.metrics, c.opts.BatchSize)
	stats, err := p.Run(ctx)
	if err != nil {
		sink.Abort()
		return stats, err
	}
	if err := sink.Close(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Inputs lists files in dir with one of the given extensions, sorted.
func Inputs(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(exts, filepath.Ext(e.Name())) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

var (
	_ pipeline.BatchExtractor = (*csvsource.Reader)(nil)
	_ pipeline.BatchExtractor = (*geojson.Reader)(nil)
)
