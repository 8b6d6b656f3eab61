package study

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/adapter/tabular"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
	"github.com/couchcryptid/hydroeval/internal/store"
)

// JoinedExportName is the file name of the exported joined table.
const JoinedExportName = "joined_timeseries"

// Publisher sends joined rows downstream.
type Publisher interface {
	PublishTable(ctx context.Context, t domain.Table) (int, error)
}

// Options carries settings that come from the environment rather than the
// study file.
type Options struct {
	Convert convert.Options

	// DatabasePath and KeepDatabase apply when the study leaves them unset.
	DatabasePath string
	KeepDatabase bool

	// Publisher receives the joined table when the study sets publish. Nil
	// skips publishing.
	Publisher Publisher
}

// Result summarizes a run.
type Result struct {
	Manifest     domain.Manifest
	JoinedRows   int64
	JoinedExport string
	Outputs      []string
	Published    int
	Database     string
}

// Runner executes studies.
type Runner struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRunner creates a Runner.
func NewRunner(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{opts: opts, logger: logger, metrics: metrics}
}

// Run converts inputs, loads and joins them, adds calculated fields, exports
// the joined table, writes each metrics query and finally removes the scratch
// database unless it is kept. A study without inputs reuses the dataset
// already under DatasetDir.
func (r *Runner) Run(ctx context.Context, s *Study) (res Result, err error) {
	start := time.Now()
	layout := parquet.Layout{Root: s.DatasetDir}
	logger := r.logger.With("study", s.Name)

	if len(s.Inputs) > 0 {
		conv := convert.New(layout, r.opts.Convert, logger, r.metrics)
		if res.Manifest, err = conv.ConvertAll(ctx, s.Inputs); err != nil {
			return res, err
		}
	}

	dbPath, keep := s.DatabasePath, s.KeepDatabase
	if dbPath == "" {
		dbPath = r.opts.DatabasePath
	}
	keep = keep || r.opts.KeepDatabase

	db, err := store.Open(ctx, dbPath, keep, logger, r.metrics)
	if err != nil {
		return res, err
	}
	res.Database = db.Path()
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	if err = db.LoadLayout(ctx, layout); err != nil {
		return res, err
	}
	if res.JoinedRows, err = db.InsertJoinedTimeseries(ctx); err != nil {
		return res, err
	}
	for _, spec := range s.CalculatedFields {
		f, ferr := domain.BuiltinField(spec.Kind, spec.Name, spec.Params)
		if ferr != nil {
			return res, ferr
		}
		if err = db.InsertCalculatedField(ctx, f); err != nil {
			return res, err
		}
	}

	var joined domain.Table
	if s.ExportJoined || (s.Publish && r.opts.Publisher != nil) {
		if joined, err = db.GetJoinedTimeseries(ctx, store.Query{}); err != nil {
			return res, err
		}
	}
	if s.ExportJoined {
		path := layout.Path(domain.KindJoined, JoinedExportName)
		if _, err = parquet.ExportTable(path, joined, r.opts.Convert.Compression); err != nil {
			return res, err
		}
		res.JoinedExport = path
	}

	for _, spec := range s.Metrics {
		t, qerr := db.GetMetrics(ctx, spec.Query())
		if qerr != nil {
			return res, fmt.Errorf("metrics %s: %w", spec.Output, qerr)
		}
		if err = tabular.WriteFile(spec.Output, t); err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, spec.Output)
		logger.Info("metrics written", "file", spec.Output, "groups", len(t.Rows))
	}

	if s.Publish {
		if r.opts.Publisher == nil {
			logger.Warn("publish requested but no publisher is configured")
		} else if res.Published, err = r.opts.Publisher.PublishTable(ctx, joined); err != nil {
			return res, err
		}
	}

	logger.Info("study complete",
		"joined_rows", res.JoinedRows,
		"outputs", len(res.Outputs),
		"duration", time.Since(start),
	)
	return res, nil
}
