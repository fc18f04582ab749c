package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the ledger service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	entriesPosted    *prometheus.CounterVec
	entriesVoided    *prometheus.CounterVec
	paymentsRecorded prometheus.Counter
	receiptsRecorded prometheus.Counter
	verifyDrift      *prometheus.GaugeVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "girder_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "girder_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	posted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "girder_journal_entries_posted_total",
		Help: "Journal entries posted, by source module.",
	}, []string{"source"})
	voided := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "girder_journal_entries_voided_total",
		Help: "Journal entries voided, by source module.",
	}, []string{"source"})
	payments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "girder_ap_payments_recorded_total",
		Help: "AP payments recorded.",
	})
	receipts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "girder_ar_receipts_recorded_total",
		Help: "AR receipts recorded.",
	})
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "girder_ledger_verify_drift_minor",
		Help: "Absolute balance drift found by the last reconciliation run, in minor units. Nonzero means a broken invariant.",
	}, []string{"company"})
	registry.MustRegister(requests, duration, posted, voided, payments, receipts, drift)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		entriesPosted:    posted,
		entriesVoided:    voided,
		paymentsRecorded: payments,
		receiptsRecorded: receipts,
		verifyDrift:      drift,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted counts a posted journal entry.
func (m *Metrics) EntryPosted(source string) {
	if m == nil {
		return
	}
	m.entriesPosted.WithLabelValues(source).Inc()
}

// EntryVoided counts a voided journal entry.
func (m *Metrics) EntryVoided(source string) {
	if m == nil {
		return
	}
	m.entriesVoided.WithLabelValues(source).Inc()
}

// PaymentRecorded counts a recorded AP payment.
func (m *Metrics) PaymentRecorded() {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
}

// ReceiptRecorded counts a recorded AR receipt.
func (m *Metrics) ReceiptRecorded() {
	if m == nil {
		return
	}
	m.receiptsRecorded.Inc()
}

// VerifyDrift reports the absolute drift found by a reconciliation run.
func (m *Metrics) VerifyDrift(companyID int64, totalAbsDrift int64) {
	if m == nil {
		return
	}
	m.verifyDrift.WithLabelValues(strconv.FormatInt(companyID, 10)).Set(float64(totalAbsDrift))
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
