package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the annotation service.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	sessionsOpenedTotal  prometheus.Counter
	editsTotal           *prometheus.CounterVec
	editsRejectedTotal   *prometheus.CounterVec
	savesTotal           prometheus.Counter
	saveFailuresTotal    prometheus.Counter
	unusableSignalsTotal prometheus.Counter
	openSessions         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the annotation service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsOpenedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_sessions_opened_total",
		Help: "Total number of editing sessions opened",
	})
	editsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_edits_total",
		Help: "Total number of applied edits by operation",
	}, []string{"op"})
	editsRejectedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_edits_rejected_total",
		Help: "Total number of edits rejected by validation, by operation",
	}, []string{"op"})
	savesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_saves_total",
		Help: "Total number of corrected files written",
	})
	saveFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_save_failures_total",
		Help: "Total number of failed corrected file writes",
	})
	unusableSignalsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "annotator_unusable_signals_total",
		Help: "Total number of recordings that could not be edited (invalid signal or detector failure)",
	})
	openSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_open_sessions",
		Help: "Number of editing sessions currently open",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsOpenedTotal,
		editsTotal,
		editsRejectedTotal,
		savesTotal,
		saveFailuresTotal,
		unusableSignalsTotal,
		openSessions,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		sessionsOpenedTotal:  sessionsOpenedTotal,
		editsTotal:           editsTotal,
		editsRejectedTotal:   editsRejectedTotal,
		savesTotal:           savesTotal,
		saveFailuresTotal:    saveFailuresTotal,
		unusableSignalsTotal: unusableSignalsTotal,
		openSessions:         openSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsOpened increments the opened sessions counter.
func (m *Metrics) IncSessionsOpened() {
	m.sessionsOpenedTotal.Inc()
}

// IncEdits increments the applied edits counter for op.
func (m *Metrics) IncEdits(op string) {
	m.editsTotal.WithLabelValues(op).Inc()
}

// IncEditsRejected increments the rejected edits counter for op.
func (m *Metrics) IncEditsRejected(op string) {
	m.editsRejectedTotal.WithLabelValues(op).Inc()
}

// IncSaves increments the saves counter.
func (m *Metrics) IncSaves() {
	m.savesTotal.Inc()
}

// IncSaveFailures increments the failed saves counter.
func (m *Metrics) IncSaveFailures() {
	m.saveFailuresTotal.Inc()
}

// IncUnusableSignals increments the unusable recordings counter.
func (m *Metrics) IncUnusableSignals() {
	m.unusableSignalsTotal.Inc()
}

// SetOpenSessions sets the open sessions gauge.
func (m *Metrics) SetOpenSessions(n int) {
	m.openSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. open sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
