//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hydroeval/internal/adapter/kafka"
	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/observability"
	"github.com/couchcryptid/hydroeval/internal/store"
)

const testTopic = "test-joined"

const (
	obsCSV = "location_id,value_time,value\n" +
		"usgs-01,2022-01-01T00:00:00Z,10\n" +
		"usgs-01,2022-01-01T01:00:00Z,12\n" +
		"usgs-01,2022-01-01T02:00:00Z,14\n"
	simCSV = "location_id,value_time,value\n" +
		"nwm-10,2022-01-01T00:00:00Z,11\n" +
		"nwm-10,2022-01-01T01:00:00Z,12\n" +
		"nwm-10,2022-01-01T02:00:00Z,17\n"
	xwCSV = "primary_location_id,secondary_location_id\nusgs-01,nwm-10\n"
)

func timeseriesMapping(configuration string) domain.Mapping {
	return domain.Mapping{Constants: map[string]string{
		domain.FieldVariableName:      "streamflow_hourly_inst",
		domain.FieldMeasurementUnit:   "m^3/s",
		domain.FieldConfigurationName: configuration,
	}}
}

// TestPublishJoined converts CSV inputs, joins them in the embedded database
// and publishes the joined rows to a real broker.
func TestPublishJoined(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	in := t.TempDir()
	layout := parquet.Layout{Root: t.TempDir()}
	metrics := observability.NewMetricsForTesting()

	conv := convert.New(layout, convert.Options{Compression: "SNAPPY", BatchSize: 50, Concurrency: 2}, discardLogger(), metrics)
	_, err := conv.ConvertAll(ctx, []convert.Job{
		{Kind: domain.KindPrimary, Input: writeFile(t, in, "usgs.csv", obsCSV), Mapping: timeseriesMapping("usgs_observations")},
		{Kind: domain.KindSecondary, Input: writeFile(t, in, "nwm.csv", simCSV), Mapping: timeseriesMapping("nwm_analysis")},
		{Kind: domain.KindCrosswalk, Input: writeFile(t, in, "xw.csv", xwCSV)},
	})
	require.NoError(t, err)

	db, err := store.Open(ctx, "", false, discardLogger(), metrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.LoadLayout(ctx, layout))
	n, err := db.InsertJoinedTimeseries(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	joined, err := db.GetJoinedTimeseries(ctx, store.Query{})
	require.NoError(t, err)

	pub := kafka.NewPublisher([]string{broker}, testTopic, 2, discardLogger(), metrics)
	sent, err := pub.PublishTable(ctx, joined)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.Equal(t, 3, sent)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	var secondary []float64
	for range 3 {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read joined row")

		assert.Equal(t, "usgs-01", string(msg.Key))
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "nwm_analysis", headers[domain.ColConfigurationName])
		assert.Equal(t, "streamflow_hourly_inst", headers[domain.ColVariableName])

		var row map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &row))
		assert.Equal(t, "nwm-10", row[domain.ColSecondaryLocationID])
		secondary = append(secondary, row[domain.ColSecondaryValue].(float64))
	}
	assert.Equal(t, []float64{11, 12, 17}, secondary)
}
