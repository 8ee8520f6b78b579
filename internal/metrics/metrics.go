package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and tools free of registry plumbing.
type Metrics struct {
	SnapshotsApplied   *prometheus.CounterVec
	SnapshotsDiscarded *prometheus.CounterVec
	RecordsDropped     *prometheus.CounterVec
	PullErrors         prometheus.Counter
	FeedEvents         *prometheus.CounterVec
	FeedState          prometheus.Gauge
	OrdersHeld         prometheus.Gauge
	CrossedBooks       *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		SnapshotsApplied:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookview_snapshots_applied_total", Help: "Order collections swapped in, by source"}, []string{"source"}),
		SnapshotsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookview_snapshots_discarded_total", Help: "Snapshots discarded by source priority, by source"}, []string{"source"}),
		RecordsDropped:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookview_records_dropped_total", Help: "Malformed order records dropped by the normalizer, by source"}, []string{"source"}),
		PullErrors:         prometheus.NewCounter(prometheus.CounterOpts{Name: "bookview_pull_errors_total", Help: "Failed snapshot fetches"}),
		FeedEvents:         prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookview_feed_events_total", Help: "Push channel events by kind"}, []string{"kind"}),
		FeedState:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "bookview_feed_state", Help: "Push channel state: 0 disconnected, 1 connected, 2 receiving"}),
		OrdersHeld:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "bookview_orders", Help: "Orders in the authoritative collection"}),
		CrossedBooks:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookview_crossed_book_total", Help: "Crossed books observed, by symbol"}, []string{"symbol"}),
	}
}

// Register adds every collector plus the Go and process collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.SnapshotsApplied, m.SnapshotsDiscarded, m.RecordsDropped, m.PullErrors,
		m.FeedEvents, m.FeedState, m.OrdersHeld, m.CrossedBooks,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Applied(source string, orders, dropped int) {
	if m == nil {
		return
	}
	m.SnapshotsApplied.WithLabelValues(source).Inc()
	m.OrdersHeld.Set(float64(orders))
	if dropped > 0 {
		m.RecordsDropped.WithLabelValues(source).Add(float64(dropped))
	}
}

func (m *Metrics) Discarded(source string) {
	if m == nil {
		return
	}
	m.SnapshotsDiscarded.WithLabelValues(source).Inc()
}

func (m *Metrics) PullFailed() {
	if m == nil {
		return
	}
	m.PullErrors.Inc()
}

func (m *Metrics) FeedEvent(kind string, state int) {
	if m == nil {
		return
	}
	m.FeedEvents.WithLabelValues(kind).Inc()
	m.FeedState.Set(float64(state))
}

func (m *Metrics) Crossed(symbol string) {
	if m == nil {
		return
	}
	m.CrossedBooks.WithLabelValues(symbol).Inc()
}
