package study

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/evaluate"
	"github.com/couchcryptid/hydroeval/internal/observability"
)

const (
	obsCSV = "site_no,datetime,discharge\n" +
		"usgs-01,2022-01-01 00:00,10\n" +
		"usgs-01,2022-01-01 01:00,12\n" +
		"usgs-01,2022-01-01 02:00,14\n" +
		"usgs-01,2022-01-01 03:00,16\n"
	simCSV = "feature_id,time,streamflow\n" +
		"nwm-10,2022-01-01 00:00,11\n" +
		"nwm-10,2022-01-01 01:00,12\n" +
		"nwm-10,2022-01-01 02:00,17\n" +
		"nwm-10,2022-01-01 03:00,16\n" +
		"nwm-99,2022-01-01 03:00,99\n"
	xwCSV    = "primary_location_id,secondary_location_id\nusgs-01,nwm-10\n"
	attrsCSV = "location_id,drainage_area\nusgs-01,2\n"
	gages    = `{"type":"FeatureCollection","features":[
  {"type":"Feature","geometry":{"type":"Point","coordinates":[-97.5,35.2]},"properties":{"id":"usgs-01","name":"Deep Fork"}}]}`

	studyYAML = `
name: deep-fork
dataset_dir: dataset
export_joined: true
publish: true
inputs:
  - kind: primary
    path: raw/usgs.csv
    columns: {location_id: site_no, value_time: datetime, value: discharge}
    constants: {variable_name: streamflow_hourly_inst, measurement_unit: m^3/s, configuration_name: usgs_observations}
  - kind: secondary
    path: raw/nwm.csv
    columns: {location_id: feature_id, value_time: time, value: streamflow}
    constants: {variable_name: streamflow_hourly_inst, measurement_unit: m^3/s, configuration_name: nwm_analysis}
  - kind: crosswalk
    path: raw/xw.csv
  - kind: attribute
    path: raw/attrs.csv
  - kind: geometry
    path: raw/gages.geojson
calculated_fields:
  - kind: month
  - kind: normalized_flow
    name: flow_per_area
    params: [primary_value, drainage_area]
metrics:
  - group_by: [primary_location_id]
    include: [primary_count, mean_error]
    output: out/metrics.csv
  - group_by: [primary_location_id, month]
    include: [primary_count]
    filters:
      - {column: flow_per_area, operator: ">", value: 6}
    output: out/by_month.json
`
)

type fakePublisher struct {
	tables []domain.Table
}

func (f *fakePublisher) PublishTable(_ context.Context, t domain.Table) (int, error) {
	f.tables = append(f.tables, t)
	return len(t.Rows), nil
}

func writeStudy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	for name, content := range map[string]string{
		"usgs.csv":      obsCSV,
		"nwm.csv":       simCSV,
		"xw.csv":        xwCSV,
		"attrs.csv":     attrsCSV,
		"gages.geojson": gages,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(raw, name), []byte(content), 0o644))
	}
	path := filepath.Join(dir, "study.yaml")
	require.NoError(t, os.WriteFile(path, []byte(studyYAML), 0o644))
	return path
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	path := writeStudy(t)
	dir := filepath.Dir(path)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "deep-fork", s.Name)
	assert.Equal(t, filepath.Join(dir, "dataset"), s.DatasetDir)
	require.Len(t, s.Inputs, 5)
	assert.Equal(t, filepath.Join(dir, "raw", "usgs.csv"), s.Inputs[0].Input)
	assert.Equal(t, "site_no", s.Inputs[0].Mapping.Columns[domain.FieldLocationID])
	assert.Equal(t, "nwm_analysis", s.Inputs[1].Mapping.Constants[domain.FieldConfigurationName])
	assert.Equal(t, filepath.Join(dir, "out", "metrics.csv"), s.Metrics[0].Output)
	assert.Equal(t, []string{"primary_value", "drainage_area"}, s.CalculatedFields[1].Params)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "dataset_dir: d\nfoo: bar\n", "foo"},
		{"missing dataset dir", "name: x\n", "dataset_dir"},
		{"joined input", "dataset_dir: d\ninputs: [{kind: joined, path: a.csv}]\n", "invalid kind"},
		{"unknown field kind", "dataset_dir: d\ncalculated_fields: [{kind: lunar_phase}]\n", "lunar_phase"},
		{"unknown metric", "dataset_dir: d\nmetrics: [{group_by: [a], include: [skill], output: m.csv}]\n", "skill"},
		{"bad output", "dataset_dir: d\nmetrics: [{group_by: [a], output: m.xlsx}]\n", "output"},
		{"missing group_by", "dataset_dir: d\nmetrics: [{output: m.csv}]\n", "group_by"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Parse([]byte("dataset_dir: d\nmetrics: [{group_by: [a], include: [skill], output: m.csv}]\n"))
	require.ErrorIs(t, err, evaluate.ErrUnknownMetric)
}

func TestRun(t *testing.T) {
	s, err := Load(writeStudy(t))
	require.NoError(t, err)

	pub := &fakePublisher{}
	r := NewRunner(Options{
		Convert:   convert.Options{Compression: "SNAPPY", BatchSize: 2, Concurrency: 2},
		Publisher: pub,
	}, slog.Default(), observability.NewMetricsForTesting())

	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, res.Manifest.Entries, 5)
	assert.Equal(t, int64(4), res.JoinedRows)
	assert.Equal(t, filepath.Join(s.DatasetDir, "joined", "joined_timeseries.parquet"), res.JoinedExport)
	assert.FileExists(t, res.JoinedExport)

	csvOut, err := os.ReadFile(s.Metrics[0].Output)
	require.NoError(t, err)
	assert.Equal(t, "primary_location_id,primary_count,mean_error\nusgs-01,4,1\n", string(csvOut))

	// flow_per_area is primary/2, so only 14 and 16 pass the filter.
	jsonOut, err := os.ReadFile(s.Metrics[1].Output)
	require.NoError(t, err)
	var doc struct {
		Columns []string         `json:"columns"`
		Data    []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(jsonOut, &doc))
	assert.Equal(t, []string{"primary_location_id", "month", "primary_count"}, doc.Columns)
	require.Len(t, doc.Data, 1)
	assert.InDelta(t, 1.0, doc.Data[0]["month"], 0)
	assert.InDelta(t, 2.0, doc.Data[0]["primary_count"], 0)

	require.Len(t, pub.tables, 1)
	assert.Equal(t, 4, res.Published)
	joined := pub.tables[0]
	assert.GreaterOrEqual(t, joined.Index("drainage_area"), 0)
	assert.GreaterOrEqual(t, joined.Index("month"), 0)
	assert.GreaterOrEqual(t, joined.Index("flow_per_area"), 0)

	assert.NoFileExists(t, res.Database, "scratch database is removed unless kept")
}

func TestRun_ReusesConvertedDataset(t *testing.T) {
	s, err := Load(writeStudy(t))
	require.NoError(t, err)
	r := NewRunner(Options{Convert: convert.Options{Compression: "NONE"}}, slog.Default(), observability.NewMetricsForTesting())

	_, err = r.Run(context.Background(), s)
	require.NoError(t, err)

	s.Inputs = nil
	s.ExportJoined = false
	s.KeepDatabase = true
	s.DatabasePath = filepath.Join(t.TempDir(), "eval.db")
	res, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Empty(t, res.Manifest.Entries)
	assert.Equal(t, int64(4), res.JoinedRows)
	assert.Zero(t, res.Published, "publish without a publisher is skipped")
	assert.FileExists(t, s.DatabasePath)

	files, err := parquet.Layout{Root: s.DatasetDir}.Files(domain.KindJoined)
	require.NoError(t, err)
	assert.Len(t, files, 1, "joined export from the first run is left in place")
}
