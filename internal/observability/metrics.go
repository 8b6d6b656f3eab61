package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hydroeval"

// Metrics holds the Prometheus counters, histograms, and gauges for conversion,
// the embedded database, and the optional adapters.
type Metrics struct {
	// Conversion metrics, labelled by dataset kind.
	RowsRead           *prometheus.CounterVec
	RowsWritten        *prometheus.CounterVec
	TransformErrors    *prometheus.CounterVec
	FilesConverted     *prometheus.CounterVec // labels: dataset, outcome={success,error}
	ConversionDuration *prometheus.HistogramVec
	BatchSize          prometheus.Histogram

	// Database metrics.
	JoinedRows    prometheus.Gauge
	QueryDuration *prometheus.HistogramVec // labels: query={insert,join,calculated_field,joined,timeseries,metrics}
	DatasetReady  prometheus.Gauge

	// Adapter metrics.
	FetchObjects      *prometheus.CounterVec // labels: outcome={success,error,retry}
	FetchBytes        prometheus.Counter
	MessagesPublished prometheus.Counter
	GeocodeRequests   *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache      *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeEnabled    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Raw input rows read, by dataset kind.",
		}, []string{"dataset"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Records written to Parquet, by dataset kind.",
		}, []string{"dataset"}),
		TransformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Input rows skipped because they could not be parsed.",
		}, []string{"dataset"}),
		FilesConverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_converted_total",
			Help:      "Input files converted, by dataset kind and outcome.",
		}, []string{"dataset", "outcome"}),
		ConversionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Duration of a complete file conversion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"dataset"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of raw rows per extracted batch.",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 10000},
		}),
		JoinedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "joined_rows",
			Help:      "Rows in the current joined timeseries table.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Embedded database operation duration in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"query"}),
		DatasetReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_ready",
			Help:      "1 when the joined table is built and queryable, 0 otherwise.",
		}),
		FetchObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_objects_total",
			Help:      "Bucket object downloads by outcome.",
		}, []string{"outcome"}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes downloaded from the bucket.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Joined rows published to Kafka.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when location name enrichment is enabled, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsRead,
		m.RowsWritten,
		m.TransformErrors,
		m.FilesConverted,
		m.ConversionDuration,
		m.BatchSize,
		m.JoinedRows,
		m.QueryDuration,
		m.DatasetReady,
		m.FetchObjects,
		m.FetchBytes,
		m.MessagesPublished,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeEnabled,
	}
}
