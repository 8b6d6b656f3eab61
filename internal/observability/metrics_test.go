package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterWithFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.RowsRead))
	for _, c := range m.collectors()[1:] {
		require.NoError(t, reg.Register(c))
	}

	m.RowsRead.WithLabelValues("primary").Add(3)
	m.JoinedRows.Set(42)

	assert.InDelta(t, 3, testutil.ToFloat64(m.RowsRead.WithLabelValues("primary")), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.JoinedRows), 0)
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.FetchBytes.Add(10)
	assert.InDelta(t, 10, testutil.ToFloat64(a.FetchBytes), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.FetchBytes), 0)
}
