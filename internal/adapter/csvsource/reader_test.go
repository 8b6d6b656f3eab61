package csvsource

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "\ufefflocation_id, value_time,value\n" +
	"usgs-01,2022-01-01 00:00,1.5\n" +
	"usgs-01,2022-01-01 01:00,2.5\n" +
	"usgs-02,2022-01-01 00:00\n"

func TestReader_Batches(t *testing.T) {
	r, err := New("obs.csv", strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"location_id", "value_time", "value"}, r.Header())

	ctx := context.Background()
	first, err := r.ExtractBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "usgs-01", first[0].Fields["location_id"])
	assert.Equal(t, "1.5", first[0].Fields["value"])
	assert.Equal(t, 2, first[0].Line)
	assert.Equal(t, "obs.csv", first[0].Source)

	second, err := r.ExtractBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 4, second[0].Line)
	_, hasValue := second[0].Fields["value"]
	assert.False(t, hasValue, "short rows leave trailing fields absent")

	_, err = r.ExtractBatch(ctx, 2)
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.ExtractBatch(ctx, 2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_HeaderOnly(t *testing.T) {
	r, err := New("empty.csv", strings.NewReader("location_id,value\n"))
	require.NoError(t, err)
	_, err = r.ExtractBatch(context.Background(), 10)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_EmptyFile(t *testing.T) {
	_, err := New("empty.csv", strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestReader_CancelledContext(t *testing.T) {
	r, err := New("obs.csv", strings.NewReader(sample))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.ExtractBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	batch, err := r.ExtractBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, path, batch[0].Source)

	_, err = Open(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}
