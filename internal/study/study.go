// Package study loads YAML study files describing a complete evaluation:
// inputs, calculated fields, metric queries and outputs.
package study

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/hydroeval/internal/adapter/tabular"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/evaluate"
	"github.com/couchcryptid/hydroeval/internal/store"
)

// Study is the decoded study file. Relative paths are resolved against the
// file's directory by Load.
type Study struct {
	Name string `yaml:"name"`

	// DatasetDir is the converted Parquet root.
	DatasetDir   string `yaml:"dataset_dir"`
	DatabasePath string `yaml:"database_path"`
	KeepDatabase bool   `yaml:"keep_database"`
	ExportJoined bool   `yaml:"export_joined"`
	Publish      bool   `yaml:"publish"`

	Inputs           []convert.Job `yaml:"inputs"`
	CalculatedFields []Field       `yaml:"calculated_fields"`
	Metrics          []MetricsSpec `yaml:"metrics"`
}

// Field selects a built-in calculated field.
type Field struct {
	Kind   string   `yaml:"kind"`
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
}

// MetricsSpec is one metrics query and the file it is written to.
type MetricsSpec struct {
	GroupBy []string       `yaml:"group_by"`
	Include []string       `yaml:"include"`
	OrderBy []string       `yaml:"order_by"`
	Filters []store.Filter `yaml:"filters"`
	Output  string         `yaml:"output"`
}

// Query returns the store query for this entry.
func (m MetricsSpec) Query() store.MetricsQuery {
	return store.MetricsQuery{
		GroupBy:        m.GroupBy,
		IncludeMetrics: m.Include,
		OrderBy:        m.OrderBy,
		Filters:        m.Filters,
	}
}

// Load reads and validates a study file. Unknown keys are rejected.
func Load(path string) (*Study, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read study: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.resolvePaths(filepath.Dir(path))
	return s, nil
}

// Parse decodes and validates study YAML without touching the filesystem.
func Parse(data []byte) (*Study, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Study
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode study: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the study before any work is done.
func (s *Study) Validate() error {
	var errs []error
	if s.DatasetDir == "" {
		errs = append(errs, errors.New("dataset_dir is required"))
	}
	for i, in := range s.Inputs {
		if in.Input == "" {
			errs = append(errs, fmt.Errorf("inputs[%d]: path is required", i))
		}
		if _, err := domain.ParseDatasetKind(string(in.Kind)); err != nil || in.Kind == domain.KindJoined {
			errs = append(errs, fmt.Errorf("inputs[%d]: invalid kind %q", i, in.Kind))
		}
	}
	for i, f := range s.CalculatedFields {
		if _, err := domain.BuiltinField(f.Kind, f.Name, f.Params); err != nil {
			errs = append(errs, fmt.Errorf("calculated_fields[%d]: %w", i, err))
		}
	}
	for i, m := range s.Metrics {
		if len(m.GroupBy) == 0 {
			errs = append(errs, fmt.Errorf("metrics[%d]: group_by is required", i))
		}
		if _, err := evaluate.Resolve(m.Include); err != nil {
			errs = append(errs, fmt.Errorf("metrics[%d]: %w", i, err))
		}
		if _, err := tabular.FormatFromPath(m.Output); err != nil {
			errs = append(errs, fmt.Errorf("metrics[%d]: output: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Study) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	s.DatasetDir = abs(s.DatasetDir)
	s.DatabasePath = abs(s.DatabasePath)
	for i := range s.Inputs {
		s.Inputs[i].Input = abs(s.Inputs[i].Input)
	}
	for i := range s.Metrics {
		s.Metrics[i].Output = abs(s.Metrics[i].Output)
	}
}
