package parquet

import (
	"fmt"
	"time"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Row schemas. Times are unix milliseconds; geometry is little-endian WKB.

type locationRow struct {
	ID       string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name     string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Geometry string  `parquet:"name=geometry, type=BYTE_ARRAY"`
	Lon      float64 `parquet:"name=lon, type=DOUBLE"`
	Lat      float64 `parquet:"name=lat, type=DOUBLE"`
}

type crosswalkRow struct {
	PrimaryLocationID   string `parquet:"name=primary_location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SecondaryLocationID string `parquet:"name=secondary_location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type attributeRow struct {
	LocationID    string `parquet:"name=location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AttributeName string `parquet:"name=attribute_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value         string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type timeseriesRow struct {
	LocationID        string  `parquet:"name=location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueTime         int64   `parquet:"name=value_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Value             float64 `parquet:"name=value, type=DOUBLE"`
	VariableName      string  `parquet:"name=variable_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	MeasurementUnit   string  `parquet:"name=measurement_unit, type=BYTE_ARRAY, convertedtype=UTF8"`
	ConfigurationName string  `parquet:"name=configuration_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReferenceTime     *int64  `parquet:"name=reference_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

func toLocationRow(l domain.Location) (any, error) {
	if l.Geometry == nil {
		return nil, fmt.Errorf("location %s: no geometry", l.ID)
	}
	b, err := wkb.Marshal(l.Geometry, wkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("location %s: encode wkb: %w", l.ID, err)
	}
	return locationRow{ID: l.ID, Name: l.Name, Geometry: string(b), Lon: l.Lon(), Lat: l.Lat()}, nil
}

func fromLocationRow(r locationRow) (domain.Location, error) {
	g, err := wkb.Unmarshal([]byte(r.Geometry))
	if err != nil {
		return domain.Location{}, fmt.Errorf("location %s: decode wkb: %w", r.ID, err)
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return domain.Location{}, fmt.Errorf("location %s: geometry is %T, want point", r.ID, g)
	}
	return domain.Location{ID: r.ID, Name: r.Name, Geometry: pt.SetSRID(4326)}, nil
}

func toCrosswalkRow(c domain.Crosswalk) (any, error) {
	return crosswalkRow(c), nil
}

func toAttributeRow(a domain.Attribute) (any, error) {
	return attributeRow(a), nil
}

func toTimeseriesRow(ts domain.Timeseries) (any, error) {
	row := timeseriesRow{
		LocationID:        ts.LocationID,
		ValueTime:         ts.ValueTime.UnixMilli(),
		Value:             ts.Value,
		VariableName:      ts.VariableName,
		MeasurementUnit:   ts.MeasurementUnit,
		ConfigurationName: ts.ConfigurationName,
	}
	if ts.ReferenceTime != nil {
		ms := ts.ReferenceTime.UnixMilli()
		row.ReferenceTime = &ms
	}
	return row, nil
}

func fromTimeseriesRow(r timeseriesRow) domain.Timeseries {
	ts := domain.Timeseries{
		LocationID:        r.LocationID,
		ValueTime:         time.UnixMilli(r.ValueTime).UTC(),
		Value:             r.Value,
		VariableName:      r.VariableName,
		MeasurementUnit:   r.MeasurementUnit,
		ConfigurationName: r.ConfigurationName,
	}
	if r.ReferenceTime != nil {
		t := time.UnixMilli(*r.ReferenceTime).UTC()
		ts.ReferenceTime = &t
	}
	return ts
}
