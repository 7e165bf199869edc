// Package observability holds the Prometheus collectors for the metering pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion outcomes, kept low-cardinality
const (
	OutcomeSuccess        = "success"
	OutcomePreflight      = "preflight"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeBadBody        = "bad_body"
	OutcomeConfiguration  = "configuration"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeTransportError = "transport_error"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ingestRequests  *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	readingsStored  prometheus.Counter
	liveSubscribers prometheus.Gauge
	liveDelivered   prometheus.Counter
	liveDropped     prometheus.Counter
	viewRenders     prometheus.Counter
	exportedRows    prometheus.Counter
	resets          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ingestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powermeter_ingest_requests_total",
			Help: "Ingestion endpoint requests by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powermeter_ingest_duration_seconds",
			Help:    "Ingestion endpoint latency including the upstream store write.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		readingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powermeter_readings_stored_total",
			Help: "Rows appended to the reading store.",
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powermeter_live_subscribers",
			Help: "Open live subscriptions.",
		}),
		liveDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powermeter_live_events_delivered_total",
			Help: "Insert events handed to subscribers.",
		}),
		liveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powermeter_live_events_dropped_total",
			Help: "Insert events dropped because a subscriber buffer was full.",
		}),
		viewRenders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powermeter_dashboard_renders_total",
			Help: "Dashboard frames rendered.",
		}),
		exportedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powermeter_export_rows_total",
			Help: "Rows written to CSV exports.",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powermeter_resets_total",
			Help: "Reset requests by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.ingestRequests,
		m.ingestDuration,
		m.readingsStored,
		m.liveSubscribers,
		m.liveDelivered,
		m.liveDropped,
		m.viewRenders,
		m.exportedRows,
		m.resets,
	)
	return m
}

// ObserveIngest records one ingestion request
func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestRequests.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncStored() {
	if m == nil {
		return
	}
	m.readingsStored.Inc()
}

// SubscriberOpened and SubscriberClosed track the live subscriber gauge
func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.liveSubscribers.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.liveSubscribers.Dec()
}

func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.liveDelivered.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.liveDropped.Inc()
}

func (m *Metrics) IncRender() {
	if m == nil {
		return
	}
	m.viewRenders.Inc()
}

func (m *Metrics) AddExported(n int) {
	if m == nil {
		return
	}
	m.exportedRows.Add(float64(n))
}

// IncReset records a reset attempt; result is "deleted", "refused" or "failed"
func (m *Metrics) IncReset(result string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(result).Inc()
}
