package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

var t0 = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestLayout_Path(t *testing.T) {
	l := Layout{Root: "/data"}
	assert.Equal(t, "/data/primary/usgs.parquet", l.Path(domain.KindPrimary, "raw/usgs.csv"))
	assert.Equal(t, "/data/geometry/gages.parquet", l.Path(domain.KindGeometry, "gages.geojson"))
}

func TestLayout_FilesSorted(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	require.NoError(t, l.Ensure())
	for _, name := range []string{"b", "a", "c"} {
		require.NoError(t, os.WriteFile(l.Path(domain.KindSecondary, name), nil, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(l.Dir(domain.KindSecondary), "notes.txt"), nil, 0o644))

	files, err := l.Files(domain.KindSecondary)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.parquet", filepath.Base(files[0]))
	assert.Equal(t, "c.parquet", filepath.Base(files[2]))

	empty, err := Layout{Root: t.TempDir()}.Files(domain.KindPrimary)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLayout_Manifest(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	m := domain.Manifest{
		CreatedAt: t0,
		Entries:   []domain.ManifestEntry{{Kind: domain.KindPrimary, Source: "usgs.csv", Output: "usgs.parquet", Rows: 10, Skipped: 1}},
	}
	require.NoError(t, l.WriteManifest(m))

	got, err := l.ReadManifest()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(m, got))
}

func TestTimeseries_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary", "usgs.parquet")
	ref := t0.Add(-6 * time.Hour)
	records := []domain.Timeseries{
		{LocationID: "usgs-01", ValueTime: t0, Value: 12.5, VariableName: "streamflow_hourly_inst", MeasurementUnit: "m^3/s", ConfigurationName: "usgs_observations"},
		{LocationID: "usgs-01", ValueTime: t0.Add(time.Hour), Value: 13, VariableName: "streamflow_hourly_inst", MeasurementUnit: "m^3/s", ConfigurationName: "usgs_observations", ReferenceTime: &ref},
	}

	sink, err := NewTimeseriesSink(path, "SNAPPY")
	require.NoError(t, err)
	require.NoError(t, sink.LoadBatch(context.Background(), records))
	assert.Equal(t, int64(2), sink.Written())
	require.NoError(t, sink.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := ReadTimeseries(path)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(records, got))
}

func TestCrosswalkAndAttribute_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	xw := []domain.Crosswalk{{PrimaryLocationID: "usgs-01", SecondaryLocationID: "nwm-10"}}
	xs, err := NewCrosswalkSink(filepath.Join(dir, "xw.parquet"), "GZIP")
	require.NoError(t, err)
	require.NoError(t, xs.LoadBatch(context.Background(), xw))
	require.NoError(t, xs.Close())
	gotXW, err := ReadCrosswalks(xs.Path())
	require.NoError(t, err)
	assert.Equal(t, xw, gotXW)

	attrs := []domain.Attribute{
		{LocationID: "usgs-01", AttributeName: "drainage_area", Value: "105.2"},
		{LocationID: "usgs-01", AttributeName: "ecoregion", Value: "great_plains"},
	}
	as, err := NewAttributeSink(filepath.Join(dir, "attrs.parquet"), "NONE")
	require.NoError(t, err)
	require.NoError(t, as.LoadBatch(context.Background(), attrs))
	require.NoError(t, as.Close())
	gotAttrs, err := ReadAttributes(as.Path())
	require.NoError(t, err)
	assert.Equal(t, attrs, gotAttrs)
}

func TestLocation_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gages.parquet")
	pt := geom.NewPointFlat(geom.XY, []float64{-97.5, 35.2}).SetSRID(4326)
	locs := []domain.Location{{ID: "usgs-01", Name: "Deep Fork", Geometry: pt}}

	sink, err := NewLocationSink(path, "SNAPPY")
	require.NoError(t, err)
	require.NoError(t, sink.LoadBatch(context.Background(), locs))
	require.NoError(t, sink.Close())

	got, err := ReadLocations(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "usgs-01", got[0].ID)
	assert.Equal(t, "Deep Fork", got[0].Name)
	assert.InDelta(t, -97.5, got[0].Lon(), 1e-12)
	assert.InDelta(t, 35.2, got[0].Lat(), 1e-12)
}

func TestLocationSink_RejectsMissingGeometry(t *testing.T) {
	sink, err := NewLocationSink(filepath.Join(t.TempDir(), "gages.parquet"), "SNAPPY")
	require.NoError(t, err)
	defer sink.Abort()

	err = sink.LoadBatch(context.Background(), []domain.Location{{ID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no geometry")
}

func TestSink_AbortLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xw.parquet")
	sink, err := NewCrosswalkSink(path, "SNAPPY")
	require.NoError(t, err)
	require.NoError(t, sink.LoadBatch(context.Background(), []domain.Crosswalk{{PrimaryLocationID: "a", SecondaryLocationID: "b"}}))
	sink.Abort()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCompressionCodec(t *testing.T) {
	for _, name := range []string{"snappy", "GZIP", "none", ""} {
		_, err := CompressionCodec(name)
		require.NoError(t, err, name)
	}
	_, err := CompressionCodec("zstd")
	require.Error(t, err)
}

type exportedRow struct {
	ValueTime    *int64   `parquet:"name=value_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	Primary      *string  `parquet:"name=primary_location_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	PrimaryValue *float64 `parquet:"name=primary_value, type=DOUBLE, repetitiontype=OPTIONAL"`
	Month        *int64   `parquet:"name=month, type=INT64, repetitiontype=OPTIONAL"`
}

func TestExportTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joined", "joined.parquet")
	table := domain.Table{
		Columns: []string{"value_time", "primary_location_id", "primary_value", "month"},
		Types:   []domain.FieldType{domain.FieldTimestamp, domain.FieldText, domain.FieldReal, domain.FieldInteger},
		Rows: [][]any{
			{t0, "usgs-01", 12.5, int64(1)},
			{t0.Add(time.Hour), "usgs-01", nil, int64(1)},
		},
	}

	n, err := ExportTable(path, table, "SNAPPY")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := readAll[exportedRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].ValueTime)
	assert.Equal(t, t0.UnixMilli(), *rows[0].ValueTime)
	assert.Equal(t, "usgs-01", *rows[0].Primary)
	assert.InDelta(t, 12.5, *rows[0].PrimaryValue, 1e-12)
	assert.Equal(t, int64(1), *rows[0].Month)
	assert.Nil(t, rows[1].PrimaryValue)
}

func TestExportTable_UnsupportedType(t *testing.T) {
	table := domain.Table{Columns: []string{"x"}, Types: []domain.FieldType{"BLOB"}}
	_, err := ExportTable(filepath.Join(t.TempDir(), "x.parquet"), table, "SNAPPY")
	require.Error(t, err)
}
