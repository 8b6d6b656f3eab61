package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// TimeseriesTransformer maps CSV rows to primary or secondary timeseries.
type TimeseriesTransformer struct {
	Mapping domain.Mapping
}

func (t TimeseriesTransformer) Transform(_ context.Context, raw domain.RawRecord) ([]domain.Timeseries, error) {
	ts, err := domain.ParseTimeseries(raw, t.Mapping)
	if err != nil {
		return nil, err
	}
	return []domain.Timeseries{ts}, nil
}

// CrosswalkTransformer maps CSV rows to crosswalk entries.
type CrosswalkTransformer struct {
	Mapping domain.Mapping
}

func (t CrosswalkTransformer) Transform(_ context.Context, raw domain.RawRecord) ([]domain.Crosswalk, error) {
	c, err := domain.ParseCrosswalk(raw, t.Mapping)
	if err != nil {
		return nil, err
	}
	return []domain.Crosswalk{c}, nil
}

// AttributeTransformer maps long or wide CSV rows to attributes.
type AttributeTransformer struct {
	Mapping domain.Mapping
}

func (t AttributeTransformer) Transform(_ context.Context, raw domain.RawRecord) ([]domain.Attribute, error) {
	return domain.ParseAttributes(raw, t.Mapping)
}

// LocationTransformer maps GeoJSON features to locations, with optional
// reverse-geocoded names for unnamed points.
type LocationTransformer struct {
	idProperty   string
	nameProperty string
	geocoder     domain.Geocoder
	logger       *slog.Logger
}

// NewLocationTransformer creates a LocationTransformer. Pass a nil geocoder
// to disable name enrichment.
func NewLocationTransformer(idProperty, nameProperty string, geocoder domain.Geocoder, logger *slog.Logger) *LocationTransformer {
	if idProperty == "" {
		idProperty = "id"
	}
	if nameProperty == "" {
		nameProperty = domain.FieldName
	}
	return &LocationTransformer{
		idProperty:   idProperty,
		nameProperty: nameProperty,
		geocoder:     geocoder,
		logger:       logger,
	}
}

func (t *LocationTransformer) Transform(ctx context.Context, raw domain.RawRecord) ([]domain.Location, error) {
	loc, err := domain.ParseLocation(raw, t.idProperty, t.nameProperty)
	if err != nil {
		return nil, err
	}
	loc = domain.EnrichLocationName(ctx, loc, t.geocoder, t.logger)
	return []domain.Location{loc}, nil
}
