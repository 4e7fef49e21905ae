package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the financial core. All
// methods are nil-safe so services can run without instrumentation.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	journalPostings   *prometheus.CounterVec
	fxConversions     *prometheus.CounterVec
	layerConsumptions *prometheus.CounterVec
	consistencyErrors prometheus.Counter
}

// NewMetrics initialises the registry and core metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_journal_postings_total",
		Help: "Journal posting attempts by outcome.",
	}, []string{"outcome"})
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_fx_conversions_total",
		Help: "Currency conversions by outcome.",
	}, []string{"outcome"})
	consumptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_cost_consumptions_total",
		Help: "Cost layer consumptions by outcome.",
	}, []string{"outcome"})
	consistency := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_consistency_errors_total",
		Help: "Internal consistency violations detected.",
	})
	registry.MustRegister(postings, conversions, consumptions, consistency)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		journalPostings:   postings,
		fxConversions:     conversions,
		layerConsumptions: consumptions,
		consistencyErrors: consistency,
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

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveJournalPosting records a posting attempt.
func (m *Metrics) ObserveJournalPosting(ok bool) {
	if m != nil {
		m.journalPostings.WithLabelValues(outcome(ok)).Inc()
	}
}

// ObserveConversion records a currency conversion attempt.
func (m *Metrics) ObserveConversion(ok bool) {
	if m != nil {
		m.fxConversions.WithLabelValues(outcome(ok)).Inc()
	}
}

// ObserveConsumption records a cost layer consumption attempt.
func (m *Metrics) ObserveConsumption(ok bool) {
	if m != nil {
		m.layerConsumptions.WithLabelValues(outcome(ok)).Inc()
	}
}

// ObserveConsistencyError records a detected internal inconsistency.
func (m *Metrics) ObserveConsistencyError() {
	if m != nil {
		m.consistencyErrors.Inc()
	}
}
