package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "water_billing"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	readingsTotal   *prometheus.CounterVec
	queuedTotal     *prometheus.CounterVec
	flushedTotal    *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	databaseOnline  prometheus.Gauge
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_recorded_total",
			Help:      "Meter readings recorded, by outcome.",
		}, []string{"outcome"}),
		queuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_writes_queued_total",
			Help:      "Writes stored in the offline queue, by kind.",
		}, []string{"kind"}),
		flushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_entries_flushed_total",
			Help:      "Offline entries processed by the flusher, by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_entries",
			Help:      "Offline queue entries, by state.",
		}, []string{"state"}),
		databaseOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_online",
			Help:      "1 when the database answered the last ping.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsTotal,
		m.queuedTotal,
		m.flushedTotal,
		m.queueDepth,
		m.databaseOnline,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ReadingRecorded counts a reading write; outcome is "online" or "queued"
func (m *Metrics) ReadingRecorded(outcome string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(outcome).Inc()
}

// WriteQueued counts a write deferred to the offline queue
func (m *Metrics) WriteQueued(kind string) {
	if m == nil {
		return
	}
	m.queuedTotal.WithLabelValues(kind).Inc()
}

// EntriesFlushed adds n entries to the flush counter for result
func (m *Metrics) EntriesFlushed(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.flushedTotal.WithLabelValues(result).Add(float64(n))
}

// SetQueueDepth publishes pending and dead entry counts
func (m *Metrics) SetQueueDepth(pending, dead int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("dead").Set(float64(dead))
}

// SetDatabaseOnline records the last ping result
func (m *Metrics) SetDatabaseOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.databaseOnline.Set(1)
		return
	}
	m.databaseOnline.Set(0)
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
