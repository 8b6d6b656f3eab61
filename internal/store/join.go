package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

const createJoined = `
CREATE TABLE joined_timeseries (
	reference_time        INTEGER,
	value_time            INTEGER NOT NULL,
	primary_location_id   TEXT NOT NULL,
	secondary_location_id TEXT NOT NULL,
	primary_value         REAL,
	secondary_value       REAL,
	configuration_name    TEXT,
	measurement_unit      TEXT,
	variable_name         TEXT,
	lead_time             INTEGER,
	absolute_difference   REAL
)`

// lead_time is in seconds.
const fillJoined = `
INSERT INTO joined_timeseries
SELECT
	sf.reference_time,
	sf.value_time,
	cw.primary_location_id,
	sf.location_id,
	pf.value,
	sf.value,
	sf.configuration_name,
	sf.measurement_unit,
	sf.variable_name,
	CASE WHEN sf.reference_time IS NULL THEN NULL
	     ELSE (sf.value_time - sf.reference_time) / 1000 END,
	abs(pf.value - sf.value)
FROM secondary_timeseries sf
JOIN location_crosswalks cw
	ON cw.secondary_location_id = sf.location_id
JOIN primary_timeseries pf
	ON pf.location_id = cw.primary_location_id
	AND pf.value_time = sf.value_time
	AND pf.measurement_unit = sf.measurement_unit
	AND pf.variable_name = sf.variable_name
ORDER BY cw.primary_location_id, sf.configuration_name, sf.reference_time, sf.value_time`

// InsertJoinedTimeseries rebuilds the joined table: secondary rows matched to
// primary rows through the crosswalk on location, value_time, unit and
// variable, followed by one TEXT column per attribute name. It returns the
// number of joined rows. A failed rebuild rolls back and leaves the previous
// table in service.
func (s *Store) InsertJoinedTimeseries(ctx context.Context) (int64, error) {
	start := time.Now()
	prev := s.joined.Load()
	s.setJoined(false)

	n, attrs, err := s.rebuildJoined(ctx)
	if err != nil {
		s.setJoined(prev)
		return 0, err
	}

	s.setJoined(true)
	s.metrics.JoinedRows.Set(float64(n))
	s.metrics.QueryDuration.WithLabelValues("join").Observe(time.Since(start).Seconds())
	s.logger.Info("joined timeseries built", "rows", n, "attributes", attrs)
	return n, nil
}

func (s *Store) rebuildJoined(ctx context.Context) (int64, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("join: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range []string{`DROP TABLE IF EXISTS joined_timeseries`, createJoined} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, 0, fmt.Errorf("join: create table: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, fillJoined)
	if err != nil {
		return 0, 0, fmt.Errorf("join: fill: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("join: count rows: %w", err)
	}

	attrs, err := attributeColumns(ctx, tx)
	if err != nil {
		return 0, 0, err
	}
	taken := append([]string(nil), domain.JoinedBaseColumns...)
	for _, a := range attrs {
		if err := addColumn(ctx, tx, a.column, domain.FieldText, taken); err != nil {
			return 0, 0, fmt.Errorf("join: attribute %q: %w", a.name, err)
		}
		taken = append(taken, a.column)
		update := fmt.Sprintf(`UPDATE joined_timeseries SET %s = (
			SELECT value FROM location_attributes la
			WHERE la.location_id = joined_timeseries.primary_location_id AND la.attribute_name = ?)`,
			quoteIdent(a.column))
		if _, err := tx.ExecContext(ctx, update, a.name); err != nil {
			return 0, 0, fmt.Errorf("join: fill attribute %q: %w", a.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("join: commit: %w", err)
	}
	return n, len(attrs), nil
}

type attributeColumn struct {
	name   string
	column string
}

func attributeColumns(ctx context.Context, tx *sql.Tx) ([]attributeColumn, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT attribute_name FROM location_attributes ORDER BY attribute_name`)
	if err != nil {
		return nil, fmt.Errorf("join: list attributes: %w", err)
	}
	defer rows.Close()

	var out []attributeColumn
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("join: list attributes: %w", err)
		}
		col, err := domain.ColumnName(name)
		if err != nil {
			return nil, fmt.Errorf("join: attribute %q: %w", name, err)
		}
		out = append(out, attributeColumn{name: name, column: col})
	}
	return out, rows.Err()
}

func addColumn(ctx context.Context, tx *sql.Tx, name string, typ domain.FieldType, taken []string) error {
	for _, t := range taken {
		if t == name {
			return fmt.Errorf("%w: %s already exists", ErrInvalidColumn, name)
		}
	}
	stmt := fmt.Sprintf(`ALTER TABLE joined_timeseries ADD COLUMN %s %s`, quoteIdent(name), typ)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	return nil
}

// InsertCalculatedField adds a column to the joined table and fills it by
// applying the field function to each row's parameter columns. Time
// parameters are passed as unix milliseconds.
func (s *Store) InsertCalculatedField(ctx context.Context, f domain.CalculatedField) error {
	if !s.joined.Load() {
		return ErrNotJoined
	}
	start := time.Now()

	name, err := domain.ColumnName(f.Name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidColumn, err)
	}
	cols, err := s.columns(ctx, joinedTable)
	if err != nil {
		return err
	}
	taken := make([]string, len(cols))
	for i, c := range cols {
		taken[i] = c.name
	}
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		if _, ok := findColumn(cols, p); !ok {
			return fmt.Errorf("%w: calculated field %s parameter %q", ErrInvalidColumn, name, p)
		}
		params[i] = quoteIdent(p)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("calculated field %s: begin: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := addColumn(ctx, tx, name, f.Type, taken); err != nil {
		return fmt.Errorf("calculated field %s: %w", name, err)
	}

	selectParams := "rowid"
	for _, p := range params {
		selectParams += ", " + p
	}
	updates, err := computeField(ctx, tx, f, selectParams, len(params))
	if err != nil {
		return fmt.Errorf("calculated field %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE joined_timeseries SET %s = ? WHERE rowid = ?`, quoteIdent(name)))
	if err != nil {
		return fmt.Errorf("calculated field %s: prepare: %w", name, err)
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.value, u.rowid); err != nil {
			return fmt.Errorf("calculated field %s: update: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("calculated field %s: commit: %w", name, err)
	}

	s.metrics.QueryDuration.WithLabelValues("calculated_field").Observe(time.Since(start).Seconds())
	s.logger.Info("calculated field added", "field", name, "type", f.Type, "rows", len(updates))
	return nil
}

type rowUpdate struct {
	rowid int64
	value any
}

// computeField reads all parameter values before any update runs, since the
// transaction holds a single connection.
func computeField(ctx context.Context, tx *sql.Tx, f domain.CalculatedField, selectList string, nParams int) ([]rowUpdate, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM joined_timeseries`, selectList))
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	defer rows.Close()

	var updates []rowUpdate
	for rows.Next() {
		var rowid int64
		args := make([]any, nParams)
		dest := make([]any, nParams+1)
		dest[0] = &rowid
		for i := range args {
			dest[i+1] = &args[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("read parameters: %w", err)
		}
		v, err := f.Func(args)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowid, err)
		}
		updates = append(updates, rowUpdate{rowid: rowid, value: v})
	}
	return updates, rows.Err()
}
