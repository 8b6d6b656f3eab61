// Package domain models hydrological evaluation datasets: gage locations,
// location crosswalks and attributes, observed (primary) and simulated
// (secondary) timeseries, and the joined table that pairs them.
//
// # Data Sources
//
// Inputs are CSV files of timeseries, crosswalks and attributes plus a
// GeoJSON FeatureCollection of gage points. Files are usually copied from a
// public object-storage bucket before conversion. Column names vary by
// provider, so every CSV input carries a [Mapping] from the standard field
// names to the file's headers and a constants map for fields the file omits
// (a USGS export rarely carries "configuration_name", for example).
//
// # Timeseries Conventions
//
// Times:
//
//	value_time is the valid time of the value; reference_time is the issue
//	time of a forecast and is empty for observations and analyses.
//	Accepted layouts: RFC 3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05",
//	"2006-01-02 15:04" and "2006-01-02". Times without a zone are UTC.
//	Stored times are unix milliseconds in UTC.
//
// Values:
//
//	Empty strings and the missing-value sentinels "NaN", "nan", "NA" and
//	"-9999" are rejected so that joined rows always carry two real numbers.
//
// Location identifiers:
//
//	Identifiers are prefixed by provider ("usgs-01013500", "nwm30-724696").
//	The crosswalk maps each secondary identifier to exactly one primary
//	identifier; a primary location may have many secondary locations.
//
// # Joined Timeseries
//
// A joined row pairs a secondary value with the primary value of the
// crosswalked location at the same value_time, variable and unit. It adds
// lead_time (value_time - reference_time, in seconds) and absolute_difference, one column
// per location attribute, and one column per [CalculatedField].
package domain
