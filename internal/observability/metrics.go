// Package observability collects the correlation-ID, metrics, and health
// concerns spec.md's control surface needs but doesn't itself define,
// grounded on the teacher's sysmetrics/server-metrics style (a dedicated
// registry exposed over /metrics) but backed by prometheus/client_golang
// rather than the teacher's hand-written text exposition format, matching
// the pack's own (jordigilh-kubernaut) use of promauto-registered vectors.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentengine/internal/breaker"
	"contentengine/internal/coordinator"
)

// Metrics holds every Prometheus collector the engine exposes, registered
// against a private registry so tests can create independent instances
// without colliding on prometheus' default global registerer.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal                   *prometheus.CounterVec
	ItemsScrapedTotal           *prometheus.CounterVec
	ItemsInsertedTotal          *prometheus.CounterVec
	DuplicatesSkippedTotal      *prometheus.CounterVec
	PolicySkippedTotal          *prometheus.CounterVec
	ClassificationFailuresTotal *prometheus.CounterVec
	BreakerState                *prometheus.GaugeVec
	KeyPoolAvailable            *prometheus.GaugeVec
	QueueDepth                  prometheus.Gauge
}

// New builds a Metrics instance with a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_runner_runs_total",
			Help: "Source Runner invocations by job and terminal status.",
		}, []string{"job", "status"}),
		ItemsScrapedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_items_scraped_total",
			Help: "Raw items returned by a harvester before dedup/storage.",
		}, []string{"source", "kind"}),
		ItemsInsertedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_items_inserted_total",
			Help: "Items newly persisted to storage.",
		}, []string{"source", "kind"}),
		DuplicatesSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_duplicates_skipped_total",
			Help: "Items skipped as duplicates, within-run or against storage.",
		}, []string{"source", "kind"}),
		PolicySkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_policy_skipped_total",
			Help: "Videos skipped by the video policy filter, by reason.",
		}, []string{"source", "reason"}),
		ClassificationFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contentengine_classification_failures_total",
			Help: "Items that failed classifier dispatch.",
		}, []string{"source"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contentengine_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open).",
		}, []string{"source"}),
		KeyPoolAvailable: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contentengine_keypool_available_keys",
			Help: "Credentials currently available (not exhausted) in a key pool.",
		}, []string{"pool"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "contentengine_scheduler_queue_depth",
			Help: "Pending coalesced firings across all scheduled jobs.",
		}),
	}
}

// ObserveSummary records one Batch Coordinator summary's reports against
// job-scoped and source-scoped counters.
func (m *Metrics) ObserveSummary(job string, summary coordinator.Summary) {
	for _, r := range summary.Reports {
		kind := string(r.Kind)
		m.RunsTotal.WithLabelValues(job, string(r.Status)).Inc()
		m.ItemsScrapedTotal.WithLabelValues(r.Source, kind).Add(float64(r.Scraped))
		m.ItemsInsertedTotal.WithLabelValues(r.Source, kind).Add(float64(r.Inserted))
		m.DuplicatesSkippedTotal.WithLabelValues(r.Source, kind).Add(float64(r.Scraped-r.Deduped) + float64(r.DuplicatesSkipped))
		if r.PolicySkipped.DurationOutOfRange > 0 {
			m.PolicySkippedTotal.WithLabelValues(r.Source, "duration").Add(float64(r.PolicySkipped.DurationOutOfRange))
		}
		if r.PolicySkipped.MissingTranscript > 0 {
			m.PolicySkippedTotal.WithLabelValues(r.Source, "transcript").Add(float64(r.PolicySkipped.MissingTranscript))
		}
		m.ClassificationFailuresTotal.WithLabelValues(r.Source).Add(float64(r.ClassificationFailed))
	}
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// SetBreakerState records source's current circuit breaker state.
func (m *Metrics) SetBreakerState(source string, s breaker.State) {
	m.BreakerState.WithLabelValues(source).Set(breakerStateValue(s))
}

// SetKeyPoolAvailable records how many credentials remain available in pool.
func (m *Metrics) SetKeyPoolAvailable(pool string, available int) {
	m.KeyPoolAvailable.WithLabelValues(pool).Set(float64(available))
}

// SetQueueDepth records the number of coalesced firings currently pending
// across scheduled jobs.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// Handler exposes the registry in the standard Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
