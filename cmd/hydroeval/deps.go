package main

import (
	"context"

	"github.com/couchcryptid/hydroeval/internal/adapter/kafka"
	"github.com/couchcryptid/hydroeval/internal/adapter/mapbox"
	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/store"
)

// newGeocoder returns the cached Mapbox geocoder, or nil when disabled.
func newGeocoder() domain.Geocoder {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Debug("mapbox geocoding disabled")
		return nil
	}
	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
	metrics.GeocodeEnabled.Set(1)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	return mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
}

func convertOptions() convert.Options {
	return convert.Options{
		Compression: cfg.ParquetCompression,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		Geocoder:    newGeocoder(),
	}
}

// newPublisher returns a Kafka publisher, or nil when publishing is disabled.
func newPublisher() *kafka.Publisher {
	if !cfg.KafkaEnabled {
		return nil
	}
	return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.BatchSize, logger, metrics)
}

// openJoined opens the scratch database, loads the dataset under DataDir and
// builds the joined table.
func openJoined(ctx context.Context) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.DatabasePath, cfg.KeepDatabase, logger, metrics)
	if err != nil {
		return nil, err
	}
	if err := db.LoadLayout(ctx, parquet.Layout{Root: cfg.DataDir}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.InsertJoinedTimeseries(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// addFields applies built-in calculated fields given as kind or
// kind:name[:param,param].
func addFields(ctx context.Context, db *store.Store, specs []string) error {
	for _, s := range specs {
		kind, name, params := parseFieldSpec(s)
		f, err := domain.BuiltinField(kind, name, params)
		if err != nil {
			return err
		}
		if err := db.InsertCalculatedField(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
