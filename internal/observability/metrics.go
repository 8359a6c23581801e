package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	issuance          *prometheus.CounterVec
	issuanceLatency   prometheus.Histogram
	claims            *prometheus.CounterVec
	claimConflicts    *prometheus.CounterVec
	orphanedSerials   prometheus.Counter
	archiveUploads    *prometheus.CounterVec
	registerAvailable *prometheus.GaugeVec

	registerOnce sync.Once
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.Register(m.registry)
	return m
}

// Register registers the collectors with registry. Subsequent calls are no-ops.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.apiRequests = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsig_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"})
		m.apiLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certsig_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})
		m.apiInflight = factory.NewGauge(prometheus.GaugeOpts{
			Name: "certsig_http_inflight_requests",
			Help: "HTTP requests currently being served",
		})

		m.issuance = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsig_issuance_total",
			Help: "Certificate issuance attempts by result kind",
		}, []string{"result"})
		m.issuanceLatency = factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certsig_issuance_duration_seconds",
			Help:    "End-to-end issuance latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		})
		m.claims = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsig_register_claims_total",
			Help: "Serial claims by register backend and result",
		}, []string{"backend", "result"})
		m.claimConflicts = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsig_register_write_conflicts_total",
			Help: "Optimistic register write conflicts that were retried",
		}, []string{"backend"})
		m.orphanedSerials = factory.NewCounter(prometheus.CounterOpts{
			Name: "certsig_orphaned_serials_total",
			Help: "Serials consumed by an issuance that did not persist a document",
		})
		m.archiveUploads = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certsig_archive_uploads_total",
			Help: "Archive uploads of issued certificates by result",
		}, []string{"result"})
		m.registerAvailable = factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certsig_register_available_serials",
			Help: "Unclaimed serials last observed in the register",
		}, []string{"backend"})
	})
}

// Handler serves the private registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ApiInflightInc() {
	if m == nil || m.apiInflight == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil || m.apiInflight == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil || m.apiRequests == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveIssuance(result string, dur time.Duration) {
	if m == nil || m.issuance == nil {
		return
	}
	m.issuance.WithLabelValues(result).Inc()
	m.issuanceLatency.Observe(dur.Seconds())
}

func (m *Metrics) ObserveClaim(backend, result string) {
	if m == nil || m.claims == nil {
		return
	}
	m.claims.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) IncClaimConflict(backend string) {
	if m == nil || m.claimConflicts == nil {
		return
	}
	m.claimConflicts.WithLabelValues(backend).Inc()
}

func (m *Metrics) IncOrphanedSerial() {
	if m == nil || m.orphanedSerials == nil {
		return
	}
	m.orphanedSerials.Inc()
}

func (m *Metrics) ObserveArchiveUpload(result string) {
	if m == nil || m.archiveUploads == nil {
		return
	}
	m.archiveUploads.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRegisterAvailable(backend string, available int) {
	if m == nil || m.registerAvailable == nil {
		return
	}
	m.registerAvailable.WithLabelValues(backend).Set(float64(available))
}
