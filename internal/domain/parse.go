package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
)

var (
	// ErrMissingField is returned when a required field has no column or constant.
	ErrMissingField = errors.New("missing field")
	// ErrInvalidValue is returned when a field cannot be parsed.
	ErrInvalidValue = errors.New("invalid value")
)

// Standard input field names.
const (
	FieldLocationID          = "location_id"
	FieldValueTime           = "value_time"
	FieldValue               = "value"
	FieldVariableName        = "variable_name"
	FieldMeasurementUnit     = "measurement_unit"
	FieldConfigurationName   = "configuration_name"
	FieldReferenceTime       = "reference_time"
	FieldPrimaryLocationID   = "primary_location_id"
	FieldSecondaryLocationID = "secondary_location_id"
	FieldAttributeName       = "attribute_name"
	FieldName                = "name"
)

// TimeseriesFields are required for primary and secondary inputs.
var TimeseriesFields = []string{
	FieldLocationID, FieldValueTime, FieldValue,
	FieldVariableName, FieldMeasurementUnit, FieldConfigurationName,
}

// CrosswalkFields are required for crosswalk inputs.
var CrosswalkFields = []string{FieldPrimaryLocationID, FieldSecondaryLocationID}

// timeLayouts are tried in order when parsing timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// missingValues are provider sentinels for "no measurement".
var missingValues = []string{"", "nan", "na", "-9999"}

// Mapping tells the parser where each standard field comes from. Columns maps
// field -> CSV header, Constants supplies literals for fields the file lacks.
// A field absent from both falls back to a header with the field's own name.
type Mapping struct {
	Columns   map[string]string `yaml:"columns" json:"columns,omitempty"`
	Constants map[string]string `yaml:"constants" json:"constants,omitempty"`
}

// Resolve checks that every required field is available from the mapping or
// the file header.
func (m Mapping) Resolve(required, header []string) error {
	var missing []string
	for _, f := range required {
		if !m.provides(f, header) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

func (m Mapping) provides(field string, header []string) bool {
	if col, ok := m.Columns[field]; ok {
		return slices.Contains(header, col)
	}
	if _, ok := m.Constants[field]; ok {
		return true
	}
	return slices.Contains(header, field)
}

// Value returns the field's raw string for a record.
func (m Mapping) Value(raw RawRecord, field string) (string, bool) {
	if col, ok := m.Columns[field]; ok {
		v, ok := raw.Fields[col]
		return strings.TrimSpace(v), ok
	}
	if v, ok := m.Constants[field]; ok {
		return v, true
	}
	v, ok := raw.Fields[field]
	return strings.TrimSpace(v), ok
}

// SourceColumns returns the header names consumed by the mapping for the
// given fields.
func (m Mapping) SourceColumns(fields []string) []string {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if col, ok := m.Columns[f]; ok {
			cols = append(cols, col)
			continue
		}
		if _, ok := m.Constants[f]; !ok {
			cols = append(cols, f)
		}
	}
	return cols
}

func (m Mapping) required(raw RawRecord, field string) (string, error) {
	v, ok := m.Value(raw, field)
	if !ok || v == "" {
		return "", fmt.Errorf("%s line %d: %w: %s", raw.Source, raw.Line, ErrMissingField, field)
	}
	return v, nil
}

// ParseTime parses a timestamp in any accepted layout. Times without a zone
// are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidValue, s)
}

// ParseValue parses a measurement, rejecting missing-value sentinels.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if slices.Contains(missingValues, strings.ToLower(s)) {
		return 0, fmt.Errorf("%w: missing value %q", ErrInvalidValue, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: value %q", ErrInvalidValue, s)
	}
	return v, nil
}

// ParseTimeseries maps a raw row to a Timeseries record.
func ParseTimeseries(raw RawRecord, m Mapping) (Timeseries, error) {
	var ts Timeseries
	var err error

	if ts.LocationID, err = m.required(raw, FieldLocationID); err != nil {
		return Timeseries{}, err
	}
	vt, err := m.required(raw, FieldValueTime)
	if err != nil {
		return Timeseries{}, err
	}
	if ts.ValueTime, err = ParseTime(vt); err != nil {
		return Timeseries{}, fmt.Errorf("%s line %d: %w", raw.Source, raw.Line, err)
	}
	v, _ := m.Value(raw, FieldValue)
	if ts.Value, err = ParseValue(v); err != nil {
		return Timeseries{}, fmt.Errorf("%s line %d: %w", raw.Source, raw.Line, err)
	}
	if ts.VariableName, err = m.required(raw, FieldVariableName); err != nil {
		return Timeseries{}, err
	}
	if ts.MeasurementUnit, err = m.required(raw, FieldMeasurementUnit); err != nil {
		return Timeseries{}, err
	}
	if ts.ConfigurationName, err = m.required(raw, FieldConfigurationName); err != nil {
		return Timeseries{}, err
	}

	if rt, ok := m.Value(raw, FieldReferenceTime); ok && rt != "" {
		t, err := ParseTime(rt)
		if err != nil {
			return Timeseries{}, fmt.Errorf("%s line %d: %w", raw.Source, raw.Line, err)
		}
		ts.ReferenceTime = &t
	}
	return ts, nil
}

// ParseCrosswalk maps a raw row to a Crosswalk record.
func ParseCrosswalk(raw RawRecord, m Mapping) (Crosswalk, error) {
	p, err := m.required(raw, FieldPrimaryLocationID)
	if err != nil {
		return Crosswalk{}, err
	}
	s, err := m.required(raw, FieldSecondaryLocationID)
	if err != nil {
		return Crosswalk{}, err
	}
	return Crosswalk{PrimaryLocationID: p, SecondaryLocationID: s}, nil
}

// ParseAttributes maps a raw row to attributes. In long form the mapping
// supplies attribute_name and value. In wide form (no attribute_name source)
// every column except the location column becomes an attribute named after
// its header. Empty wide cells are skipped.
func ParseAttributes(raw RawRecord, m Mapping) ([]Attribute, error) {
	id, err := m.required(raw, FieldLocationID)
	if err != nil {
		return nil, err
	}

	if name, ok := m.Value(raw, FieldAttributeName); ok {
		if name == "" {
			return nil, fmt.Errorf("%s line %d: %w: %s", raw.Source, raw.Line, ErrMissingField, FieldAttributeName)
		}
		v, _ := m.Value(raw, FieldValue)
		return []Attribute{{LocationID: id, AttributeName: name, Value: v}}, nil
	}

	idCol := FieldLocationID
	if col, ok := m.Columns[FieldLocationID]; ok {
		idCol = col
	}
	keys := make([]string, 0, len(raw.Fields))
	for k := range raw.Fields {
		if k != idCol {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	attrs := make([]Attribute, 0, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(raw.Fields[k])
		if v == "" {
			continue
		}
		attrs = append(attrs, Attribute{LocationID: id, AttributeName: k, Value: v})
	}
	return attrs, nil
}

// ParseLocation maps a GeoJSON feature to a Location. idProp and nameProp name
// the properties carrying the identifier and display name.
func ParseLocation(raw RawRecord, idProp, nameProp string) (Location, error) {
	id := strings.TrimSpace(raw.Fields[idProp])
	if id == "" {
		return Location{}, fmt.Errorf("%s feature %d: %w: %s", raw.Source, raw.Line, ErrMissingField, idProp)
	}

	pt, ok := raw.Geometry.(*geom.Point)
	if !ok || pt == nil || pt.Empty() {
		return Location{}, fmt.Errorf("%s feature %d: %w: point geometry required", raw.Source, raw.Line, ErrInvalidValue)
	}
	lon, lat := pt.X(), pt.Y()
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("%s feature %d: %w: coordinates %.6f,%.6f", raw.Source, raw.Line, ErrInvalidValue, lon, lat)
	}

	return Location{
		ID:       id,
		Name:     strings.TrimSpace(raw.Fields[nameProp]),
		Geometry: geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(4326),
	}, nil
}
