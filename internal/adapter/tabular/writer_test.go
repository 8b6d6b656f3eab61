package tabular

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

func metricsTable() domain.Table {
	return domain.Table{
		Columns: []string{"primary_location_id", "primary_count", "mean_error", "primary_max_value_time"},
		Types:   []domain.FieldType{domain.FieldText, domain.FieldInteger, domain.FieldReal, domain.FieldTimestamp},
		Rows: [][]any{
			{"usgs-01", int64(3), 1.5, time.Date(2022, time.January, 1, 2, 0, 0, 0, time.UTC)},
			{"usgs-02", int64(0), nil, nil},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, metricsTable()))
	assert.Equal(t, "primary_location_id,primary_count,mean_error,primary_max_value_time\n"+
		"usgs-01,3,1.5,2022-01-01T02:00:00Z\n"+
		"usgs-02,0,,\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, metricsTable()))
	assert.JSONEq(t, `{
		"columns": ["primary_location_id", "primary_count", "mean_error", "primary_max_value_time"],
		"data": [
			{"primary_location_id": "usgs-01", "primary_count": 3, "mean_error": 1.5, "primary_max_value_time": "2022-01-01T02:00:00Z"},
			{"primary_location_id": "usgs-02", "primary_count": 0, "mean_error": null, "primary_max_value_time": null}
		]
	}`, buf.String())
}

func TestWriteJSON_EmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, domain.Table{}))
	assert.JSONEq(t, `{"columns": [], "data": []}`, buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	require.Error(t, err)

	f, err = FormatFromPath("out/metrics.json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.csv")
	require.NoError(t, WriteFile(path, metricsTable()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "usgs-01,3,1.5")

	require.Error(t, WriteFile(filepath.Join(t.TempDir(), "metrics.txt"), metricsTable()))
}
