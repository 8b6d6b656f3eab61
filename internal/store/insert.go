package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/domain"
)

// InsertLocations adds or replaces locations.
func (s *Store) InsertLocations(ctx context.Context, locs []domain.Location) error {
	return s.insert(ctx, "locations",
		`INSERT OR REPLACE INTO locations (id, name, geometry, lon, lat) VALUES (?, ?, ?, ?, ?)`,
		len(locs), func(stmt *sql.Stmt, i int) error {
			l := locs[i]
			var geometry []byte
			if l.Geometry != nil {
				b, err := wkb.Marshal(l.Geometry, wkb.NDR)
				if err != nil {
					return fmt.Errorf("location %s: encode wkb: %w", l.ID, err)
				}
				geometry = b
			}
			_, err := stmt.ExecContext(ctx, l.ID, l.Name, geometry, l.Lon(), l.Lat())
			return err
		})
}

// InsertLocationCrosswalks adds or replaces crosswalk entries. A secondary
// location maps to exactly one primary location.
func (s *Store) InsertLocationCrosswalks(ctx context.Context, xw []domain.Crosswalk) error {
	return s.insert(ctx, "location_crosswalks",
		`INSERT OR REPLACE INTO location_crosswalks (secondary_location_id, primary_location_id) VALUES (?, ?)`,
		len(xw), func(stmt *sql.Stmt, i int) error {
			_, err := stmt.ExecContext(ctx, xw[i].SecondaryLocationID, xw[i].PrimaryLocationID)
			return err
		})
}

// InsertLocationAttributes adds or replaces attributes.
func (s *Store) InsertLocationAttributes(ctx context.Context, attrs []domain.Attribute) error {
	return s.insert(ctx, "location_attributes",
		`INSERT OR REPLACE INTO location_attributes (location_id, attribute_name, value) VALUES (?, ?, ?)`,
		len(attrs), func(stmt *sql.Stmt, i int) error {
			a := attrs[i]
			_, err := stmt.ExecContext(ctx, a.LocationID, a.AttributeName, a.Value)
			return err
		})
}

// InsertPrimaryTimeseries appends observed timeseries.
func (s *Store) InsertPrimaryTimeseries(ctx context.Context, ts []domain.Timeseries) error {
	return s.insertTimeseries(ctx, "primary_timeseries", ts)
}

// InsertSecondaryTimeseries appends simulated timeseries.
func (s *Store) InsertSecondaryTimeseries(ctx context.Context, ts []domain.Timeseries) error {
	return s.insertTimeseries(ctx, "secondary_timeseries", ts)
}

func (s *Store) insertTimeseries(ctx context.Context, table string, ts []domain.Timeseries) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(location_id, value_time, value, variable_name, measurement_unit, configuration_name, reference_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, table)
	return s.insert(ctx, table, query, len(ts), func(stmt *sql.Stmt, i int) error {
		r := ts[i]
		var ref any
		if r.ReferenceTime != nil {
			ref = r.ReferenceTime.UnixMilli()
		}
		_, err := stmt.ExecContext(ctx, r.LocationID, r.ValueTime.UnixMilli(), r.Value,
			r.VariableName, r.MeasurementUnit, r.ConfigurationName, ref)
		return err
	})
}

// insert runs one prepared statement n times inside a transaction.
func (s *Store) insert(ctx context.Context, table, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", table, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("insert %s: prepare: %w", table, err)
	}
	defer stmt.Close()

	for i := range n {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert %s: commit: %w", table, err)
	}

	s.metrics.QueryDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	s.logger.Debug("rows inserted", "table", table, "rows", n)
	return nil
}

// LoadLayout inserts every converted dataset file under a layout root.
func (s *Store) LoadLayout(ctx context.Context, layout parquet.Layout) error {
	for _, kind := range domain.DatasetKinds {
		if kind == domain.KindJoined {
			continue
		}
		files, err := layout.Files(kind)
		if err != nil {
			return err
		}
		for _, path := range files {
			if err := s.LoadFile(ctx, kind, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadFile inserts one Parquet file of the given dataset kind.
func (s *Store) LoadFile(ctx context.Context, kind domain.DatasetKind, path string) error {
	var err error
	switch kind {
	case domain.KindGeometry:
		var locs []domain.Location
		if locs, err = parquet.ReadLocations(path); err == nil {
			err = s.InsertLocations(ctx, locs)
		}
	case domain.KindCrosswalk:
		var xw []domain.Crosswalk
		if xw, err = parquet.ReadCrosswalks(path); err == nil {
			err = s.InsertLocationCrosswalks(ctx, xw)
		}
	case domain.KindAttribute:
		var attrs []domain.Attribute
		if attrs, err = parquet.ReadAttributes(path); err == nil {
			err = s.InsertLocationAttributes(ctx, attrs)
		}
	case domain.KindPrimary:
		var ts []domain.Timeseries
		if ts, err = parquet.ReadTimeseries(path); err == nil {
			err = s.InsertPrimaryTimeseries(ctx, ts)
		}
	case domain.KindSecondary:
		var ts []domain.Timeseries
		if ts, err = parquet.ReadTimeseries(path); err == nil {
			err = s.InsertSecondaryTimeseries(ctx, ts)
		}
	default:
		return fmt.Errorf("dataset kind %q cannot be loaded", kind)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, path, err)
	}
	s.logger.Info("dataset file loaded", "dataset", kind, "file", path)
	return nil
}
