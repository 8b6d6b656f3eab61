package parquet

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

const readParallelism = 4

// ReadTimeseries loads every record of a timeseries file.
func ReadTimeseries(path string) ([]domain.Timeseries, error) {
	rows, err := readAll[timeseriesRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Timeseries, len(rows))
	for i, r := range rows {
		out[i] = fromTimeseriesRow(r)
	}
	return out, nil
}

// ReadCrosswalks loads every record of a crosswalk file.
func ReadCrosswalks(path string) ([]domain.Crosswalk, error) {
	rows, err := readAll[crosswalkRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Crosswalk, len(rows))
	for i, r := range rows {
		out[i] = domain.Crosswalk(r)
	}
	return out, nil
}

// ReadAttributes loads every record of an attribute file.
func ReadAttributes(path string) ([]domain.Attribute, error) {
	rows, err := readAll[attributeRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Attribute, len(rows))
	for i, r := range rows {
		out[i] = domain.Attribute(r)
	}
	return out, nil
}

// ReadLocations loads every record of a geometry file.
func ReadLocations(path string) ([]domain.Location, error) {
	rows, err := readAll[locationRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Location, 0, len(rows))
	for _, r := range rows {
		loc, err := fromLocationRow(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

func readAll[R any](path string) (rows []R, err error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(R), readParallelism)
	if err != nil {
		return nil, fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	rows = make([]R, pr.GetNumRows())
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read parquet rows %s: %w", path, err)
	}
	return rows, nil
}
