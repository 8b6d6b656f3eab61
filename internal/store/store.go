// Package store is the embedded SQL database that joins primary and
// secondary timeseries and answers evaluation queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
)

const joinedTable = "joined_timeseries"

var (
	// ErrInvalidColumn is returned for unknown or colliding column names.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrInvalidFilter is returned for malformed filters.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrNotJoined is returned by joined-table queries before InsertJoinedTimeseries.
	ErrNotJoined = errors.New("joined timeseries not built")
)

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	geometry BLOB,
	lon      REAL,
	lat      REAL
);

CREATE TABLE IF NOT EXISTS location_crosswalks (
	secondary_location_id TEXT PRIMARY KEY,
	primary_location_id   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS location_attributes (
	location_id    TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	value          TEXT,
	PRIMARY KEY (location_id, attribute_name)
);

CREATE TABLE IF NOT EXISTS primary_timeseries (
	location_id        TEXT NOT NULL,
	value_time         INTEGER NOT NULL,
	value              REAL NOT NULL,
	variable_name      TEXT NOT NULL,
	measurement_unit   TEXT NOT NULL,
	configuration_name TEXT NOT NULL,
	reference_time     INTEGER
);

CREATE TABLE IF NOT EXISTS secondary_timeseries (
	location_id        TEXT NOT NULL,
	value_time         INTEGER NOT NULL,
	value              REAL NOT NULL,
	variable_name      TEXT NOT NULL,
	measurement_unit   TEXT NOT NULL,
	configuration_name TEXT NOT NULL,
	reference_time     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_primary_location_time ON primary_timeseries(location_id, value_time);
CREATE INDEX IF NOT EXISTS idx_secondary_location_time ON secondary_timeseries(location_id, value_time);
CREATE INDEX IF NOT EXISTS idx_crosswalk_primary ON location_crosswalks(primary_location_id);
`

// Store wraps a SQLite database file used as scratch space for one
// evaluation run.
type Store struct {
	db      *sql.DB
	path    string
	keep    bool
	logger  *slog.Logger
	metrics *observability.Metrics
	joined  atomic.Bool
}

// Open creates an empty database at path, replacing any file left there by an
// earlier run. An empty path creates a temporary file. Unless keep is set the
// file is removed on Close.
func Open(ctx context.Context, path string, keep bool, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if path != "" {
		if err := removeDatabase(path); err != nil {
			return nil, fmt.Errorf("replace database: %w", err)
		}
	} else {
		f, err := os.CreateTemp("", "hydroeval-*.db")
		if err != nil {
			return nil, fmt.Errorf("create scratch database: %w", err)
		}
		path = f.Name()
		f.Close() //nolint:errcheck // only the name is needed
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ALTER TABLE and the reads that follow consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, path: path, keep: keep, logger: logger, metrics: metrics}
	s.setJoined(false)
	logger.Debug("database opened", "path", path, "keep", keep)
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database and removes the file unless it is kept.
func (s *Store) Close() error {
	s.setJoined(false)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	if s.keep {
		return nil
	}
	if err := removeDatabase(s.path); err != nil {
		return fmt.Errorf("remove database: %w", err)
	}
	return nil
}

// removeDatabase deletes the database file and its WAL sidecars.
func removeDatabase(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// CheckReadiness reports whether the joined table is built and the database
// answers.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if !s.joined.Load() {
		return ErrNotJoined
	}
	return s.db.PingContext(ctx)
}

func (s *Store) setJoined(v bool) {
	s.joined.Store(v)
	if v {
		s.metrics.DatasetReady.Set(1)
	} else {
		s.metrics.DatasetReady.Set(0)
	}
}

type column struct {
	name string
	typ  domain.FieldType
}

// columns returns a table's columns in definition order. Time columns are
// reported as FieldTimestamp.
func (s *Store) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, declType   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, column{name: name, typ: columnType(name, declType)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	return cols, nil
}

func columnType(name, declType string) domain.FieldType {
	if domain.IsTimeColumn(name) {
		return domain.FieldTimestamp
	}
	switch strings.ToUpper(declType) {
	case "INTEGER":
		return domain.FieldInteger
	case "REAL":
		return domain.FieldReal
	default:
		return domain.FieldText
	}
}

func findColumn(cols []column, name string) (column, bool) {
	for _, c := range cols {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

// quoteIdent quotes a validated identifier for SQL text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
