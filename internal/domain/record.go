package domain

import (
	"fmt"
	"time"

	"github.com/twpayne/go-geom"
)

// DatasetKind names one of the fixed dataset subdirectories.
type DatasetKind string

const (
	KindPrimary   DatasetKind = "primary"
	KindSecondary DatasetKind = "secondary"
	KindCrosswalk DatasetKind = "crosswalk"
	KindGeometry  DatasetKind = "geometry"
	KindAttribute DatasetKind = "attribute"
	KindJoined    DatasetKind = "joined"
)

// DatasetKinds lists every kind in the order datasets are loaded.
var DatasetKinds = []DatasetKind{
	KindGeometry, KindCrosswalk, KindAttribute, KindPrimary, KindSecondary, KindJoined,
}

// ParseDatasetKind validates a dataset kind name.
func ParseDatasetKind(s string) (DatasetKind, error) {
	for _, k := range DatasetKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown dataset kind %q", s)
}

// IsTimeseries reports whether the kind holds timeseries records.
func (k DatasetKind) IsTimeseries() bool {
	return k == KindPrimary || k == KindSecondary
}

// RawRecord is one unparsed input row. CSV rows fill Fields keyed by header;
// GeoJSON features fill Fields from properties and set Geometry.
type RawRecord struct {
	Source   string
	Line     int
	Fields   map[string]string
	Geometry geom.T
}

// Location is a gage or model reach with a point geometry.
type Location struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Geometry *geom.Point `json:"-"`
}

// Lon returns the point longitude, or 0 without geometry.
func (l Location) Lon() float64 {
	if l.Geometry == nil || l.Geometry.Empty() {
		return 0
	}
	return l.Geometry.X()
}

// Lat returns the point latitude, or 0 without geometry.
func (l Location) Lat() float64 {
	if l.Geometry == nil || l.Geometry.Empty() {
		return 0
	}
	return l.Geometry.Y()
}

// Crosswalk maps a secondary location to the primary location it is evaluated against.
type Crosswalk struct {
	PrimaryLocationID   string `json:"primary_location_id"`
	SecondaryLocationID string `json:"secondary_location_id"`
}

// Attribute is a static property of a location, e.g. drainage area or ecoregion.
type Attribute struct {
	LocationID    string `json:"location_id"`
	AttributeName string `json:"attribute_name"`
	Value         string `json:"value"`
}

// Timeseries is a single primary or secondary value.
type Timeseries struct {
	LocationID        string     `json:"location_id"`
	ValueTime         time.Time  `json:"value_time"`
	Value             float64    `json:"value"`
	VariableName      string     `json:"variable_name"`
	MeasurementUnit   string     `json:"measurement_unit"`
	ConfigurationName string     `json:"configuration_name"`
	ReferenceTime     *time.Time `json:"reference_time,omitempty"`
}

// Joined timeseries base columns. Attribute and calculated-field columns are
// appended after these.
const (
	ColReferenceTime       = "reference_time"
	ColValueTime           = "value_time"
	ColPrimaryLocationID   = "primary_location_id"
	ColSecondaryLocationID = "secondary_location_id"
	ColPrimaryValue        = "primary_value"
	ColSecondaryValue      = "secondary_value"
	ColConfigurationName   = "configuration_name"
	ColMeasurementUnit     = "measurement_unit"
	ColVariableName        = "variable_name"
	ColLeadTime            = "lead_time"
	ColAbsoluteDifference  = "absolute_difference"
)

// JoinedBaseColumns is the fixed column order of the joined table.
var JoinedBaseColumns = []string{
	ColReferenceTime,
	ColValueTime,
	ColPrimaryLocationID,
	ColSecondaryLocationID,
	ColPrimaryValue,
	ColSecondaryValue,
	ColConfigurationName,
	ColMeasurementUnit,
	ColVariableName,
	ColLeadTime,
	ColAbsoluteDifference,
}

// IsTimeColumn reports whether a column holds unix-millisecond timestamps.
func IsTimeColumn(name string) bool {
	return name == ColValueTime || name == ColReferenceTime
}
