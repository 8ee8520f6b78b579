package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Applied("pull", 3, 1)
	m.Discarded("pull")
	m.PullFailed()
	m.FeedEvent("connected", 1)
	m.Crossed("BTCUSD")
}

func TestRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration")

	m.Applied("pull", 4, 2)
	m.Applied("push", 3, 0)
	m.Discarded("pull")
	m.FeedEvent("orderbook_update", 2)
	m.Crossed("BTCUSD")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsApplied.WithLabelValues("pull")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("pull")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("push")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrdersHeld))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedState))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bookview_crossed_book_total{symbol="BTCUSD"} 1`)
	assert.Contains(t, string(body), `bookview_snapshots_discarded_total{source="pull"} 1`)
}
