package domain

import (
	"context"
	"log/slog"
)

// GeocodingResult contains place data returned by a geocoding provider.
type GeocodingResult struct {
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves coordinates to place details.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}

// EnrichLocationName fills an empty location name from reverse geocoding.
// Named locations, a nil geocoder, and lookup failures leave the location
// unchanged.
func EnrichLocationName(ctx context.Context, loc Location, geocoder Geocoder, logger *slog.Logger) Location {
	if geocoder == nil || loc.Name != "" || loc.Geometry == nil {
		return loc
	}

	result, err := geocoder.ReverseGeocode(ctx, loc.Lat(), loc.Lon())
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"location_id", loc.ID,
			"lat", loc.Lat(),
			"lon", loc.Lon(),
			"error", err,
		)
		return loc
	}

	switch {
	case result.PlaceName != "":
		loc.Name = result.PlaceName
	case result.FormattedAddress != "":
		loc.Name = result.FormattedAddress
	}
	return loc
}
