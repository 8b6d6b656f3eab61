// Package geojson reads GeoJSON feature collections as raw records.
package geojson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// Reader yields the features of a collection in file order. It implements
// pipeline.BatchExtractor.
type Reader struct {
	records []domain.RawRecord
	next    int
}

// Open decodes a FeatureCollection file. Feature properties become record
// fields; when idProperty is missing from a feature's properties the
// feature's own id is used.
func Open(path, idProperty string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geojson: %w", err)
	}
	defer f.Close()
	return New(path, f, idProperty)
}

// New decodes a FeatureCollection from in.
func New(source string, in io.Reader, idProperty string) (*Reader, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", source, err)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%s: decode feature collection: %w", source, err)
	}

	records := make([]domain.RawRecord, len(fc.Features))
	for i, feat := range fc.Features {
		fields := make(map[string]string, len(feat.Properties)+1)
		for k, v := range feat.Properties {
			fields[k] = propertyString(v)
		}
		if fields[idProperty] == "" && feat.ID != "" {
			fields[idProperty] = feat.ID
		}
		records[i] = domain.RawRecord{
			Source:   source,
			Line:     i + 1,
			Fields:   fields,
			Geometry: feat.Geometry,
		}
	}
	return &Reader{records: records}, nil
}

// Len returns the number of features.
func (r *Reader) Len() int { return len(r.records) }

// ExtractBatch returns up to batchSize features, then io.EOF.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.next >= len(r.records) {
		return nil, io.EOF
	}
	end := min(r.next+batchSize, len(r.records))
	batch := r.records[r.next:end]
	r.next = end
	return batch, nil
}

func propertyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
