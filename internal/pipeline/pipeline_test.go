package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
	"github.com/couchcryptid/hydroeval/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawRecord
	err     error
}

func (m *mockExtractor) ExtractBatch(_ context.Context, _ int) ([]domain.RawRecord, error) {
	if len(m.batches) == 0 {
		if m.err != nil {
			return nil, m.err
		}
		return nil, io.EOF
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

type mockLoader[T any] struct {
	loaded []T
	err    error
}

func (m *mockLoader[T]) LoadBatch(_ context.Context, records []T) error {
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, records...)
	return nil
}

type mockGeocoder struct {
	result domain.GeocodingResult
	err    error
	calls  int
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

var obsMapping = domain.Mapping{
	Columns: map[string]string{
		domain.FieldLocationID: "site",
		domain.FieldValueTime:  "datetime",
		domain.FieldValue:      "flow",
	},
	Constants: map[string]string{
		domain.FieldVariableName:      "streamflow_hourly_inst",
		domain.FieldMeasurementUnit:   "m^3/s",
		domain.FieldConfigurationName: "usgs_observations",
	},
}

func obsRow(line int, site, datetime, flow string) domain.RawRecord {
	return domain.RawRecord{
		Source: "obs.csv",
		Line:   line,
		Fields: map[string]string{"site": site, "datetime": datetime, "flow": flow},
	}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawRecord{
		{obsRow(2, "usgs-01", "2022-01-01 00:00", "1.5"), obsRow(3, "usgs-01", "2022-01-01 01:00", "2.0")},
		{obsRow(4, "usgs-01", "2022-01-01 02:00", "2.5")},
	}}
	ldr := &mockLoader[domain.Timeseries]{}
	metrics := newTestMetrics()

	p := pipeline.New(domain.KindPrimary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), metrics, 2)
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.Stats{Read: 3, Written: 3}, stats)
	require.Len(t, ldr.loaded, 3)
	want := domain.Timeseries{
		LocationID:        "usgs-01",
		ValueTime:         time.Date(2022, time.January, 1, 2, 0, 0, 0, time.UTC),
		Value:             2.5,
		VariableName:      "streamflow_hourly_inst",
		MeasurementUnit:   "m^3/s",
		ConfigurationName: "usgs_observations",
	}
	if diff := cmp.Diff(want, ldr.loaded[2]); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.RowsRead.WithLabelValues("primary")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.RowsWritten.WithLabelValues("primary")), 0)
}

func TestPipeline_Run_TransformErrorsAreSkipped(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawRecord{{
		obsRow(2, "usgs-01", "2022-01-01 00:00", "NaN"),
		obsRow(3, "usgs-01", "yesterday", "1"),
		obsRow(4, "", "2022-01-01 00:00", "1"),
		obsRow(5, "usgs-01", "2022-01-01 00:00", "4"),
	}}}
	ldr := &mockLoader[domain.Timeseries]{}
	metrics := newTestMetrics()

	p := pipeline.New(domain.KindSecondary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), metrics, 10)
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.Stats{Read: 4, Written: 1, Skipped: 3}, stats)
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.TransformErrors.WithLabelValues("secondary")), 0)
}

func TestPipeline_Run_AllRowsInvalid(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawRecord{{obsRow(2, "usgs-01", "bad", "1")}}}
	ldr := &mockLoader[domain.Timeseries]{err: errors.New("must not be called")}

	p := pipeline.New(domain.KindPrimary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), newTestMetrics(), 10)
	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_ExtractError(t *testing.T) {
	ext := &mockExtractor{err: errors.New("disk gone")}
	ldr := &mockLoader[domain.Timeseries]{}

	p := pipeline.New(domain.KindPrimary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), newTestMetrics(), 10)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestPipeline_Run_LoadError(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawRecord{{obsRow(2, "usgs-01", "2022-01-01", "1")}}}
	ldr := &mockLoader[domain.Timeseries]{err: errors.New("write failed")}

	p := pipeline.New(domain.KindPrimary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), newTestMetrics(), 10)
	stats, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load batch")
	assert.Zero(t, stats.Written)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawRecord{{obsRow(2, "usgs-01", "2022-01-01", "1")}}}
	ldr := &mockLoader[domain.Timeseries]{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := pipeline.New(domain.KindPrimary, ext, pipeline.TimeseriesTransformer{Mapping: obsMapping}, ldr, slog.Default(), newTestMetrics(), 10)
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ldr.loaded)
}

func TestAttributeTransformer_WideRows(t *testing.T) {
	tfm := pipeline.AttributeTransformer{}
	out, err := tfm.Transform(context.Background(), domain.RawRecord{
		Source: "attrs.csv",
		Line:   2,
		Fields: map[string]string{"location_id": "usgs-01", "drainage_area": "105.2", "ecoregion": "plains", "huc": ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Attribute{
		{LocationID: "usgs-01", AttributeName: "drainage_area", Value: "105.2"},
		{LocationID: "usgs-01", AttributeName: "ecoregion", Value: "plains"},
	}, out)
}

func TestCrosswalkTransformer(t *testing.T) {
	tfm := pipeline.CrosswalkTransformer{}
	out, err := tfm.Transform(context.Background(), domain.RawRecord{
		Fields: map[string]string{"primary_location_id": "usgs-01", "secondary_location_id": "nwm-10"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Crosswalk{{PrimaryLocationID: "usgs-01", SecondaryLocationID: "nwm-10"}}, out)

	_, err = tfm.Transform(context.Background(), domain.RawRecord{Fields: map[string]string{"primary_location_id": "usgs-01"}})
	require.ErrorIs(t, err, domain.ErrMissingField)
}

func pointFeature(id, name string) domain.RawRecord {
	return domain.RawRecord{
		Source:   "gages.geojson",
		Line:     1,
		Fields:   map[string]string{"id": id, "name": name},
		Geometry: geom.NewPointFlat(geom.XY, []float64{-97.5, 35.2}),
	}
}

func TestLocationTransformer_GeocodesUnnamed(t *testing.T) {
	gc := &mockGeocoder{result: domain.GeocodingResult{PlaceName: "Oklahoma City"}}
	tfm := pipeline.NewLocationTransformer("", "", gc, slog.Default())

	out, err := tfm.Transform(context.Background(), pointFeature("usgs-01", ""))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Oklahoma City", out[0].Name)

	named, err := tfm.Transform(context.Background(), pointFeature("usgs-02", "Deep Fork"))
	require.NoError(t, err)
	assert.Equal(t, "Deep Fork", named[0].Name)
	assert.Equal(t, 1, gc.calls)
}

func TestLocationTransformer_GeocodeFailureKeepsLocation(t *testing.T) {
	gc := &mockGeocoder{err: errors.New("rate limited")}
	tfm := pipeline.NewLocationTransformer("id", "name", gc, slog.Default())

	out, err := tfm.Transform(context.Background(), pointFeature("usgs-01", ""))
	require.NoError(t, err)
	assert.Empty(t, out[0].Name)
	assert.Equal(t, "usgs-01", out[0].ID)
}
