package coinrank

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsTracer exports search progress as Prometheus collectors registered
// on the given registerer.
type MetricsTracer struct {
	NopTracer

	observations *prometheus.CounterVec
	budgetUsed   prometheus.Gauge
	steps        prometheus.Counter
	fallbacks    prometheus.Counter
	searches     *prometheus.CounterVec
	candidates   prometheus.Histogram
}

func NewMetricsTracer(reg prometheus.Registerer) *MetricsTracer {
	factory := promauto.With(reg)
	return &MetricsTracer{
		// Labels: phase = "explore", "focus", "guard"; outcome = "H", "T"
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrank_observations_total",
			Help: "Observations spent by phase and outcome",
		}, []string{"phase", "outcome"}),

		budgetUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coinrank_budget_used",
			Help: "Observations spent by the current search",
		}),

		steps: factory.NewCounter(prometheus.CounterOpts{
			Name: "coinrank_refinement_steps_total",
			Help: "Refinement iterations across searches",
		}),

		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "coinrank_candidate_fallbacks_total",
			Help: "Searches whose candidates came from the top-five fallback",
		}),

		// Labels: result = "found", "none"
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrank_searches_total",
			Help: "Completed searches by result",
		}, []string{"result"}),

		candidates: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coinrank_candidates",
			Help:    "Candidate set size per search",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
	}
}

func (m *MetricsTracer) Start(int, int, int) {
	m.budgetUsed.Set(0)
}

func (m *MetricsTracer) Observed(o Observation) {
	m.observations.WithLabelValues(o.Phase.String(), o.Outcome.String()).Inc()
	m.budgetUsed.Set(float64(o.Number))
}

func (m *MetricsTracer) CandidatesSelected(candidates []int, fallback bool) {
	m.candidates.Observe(float64(len(candidates)))
	if fallback {
		m.fallbacks.Inc()
	}
}

func (m *MetricsTracer) Refining(RefineStep) {
	m.steps.Inc()
}

func (m *MetricsTracer) Finalized(_ []Entry, _ int, found bool) {
	if found {
		m.searches.WithLabelValues("found").Inc()
		return
	}
	m.searches.WithLabelValues("none").Inc()
}

func (m *MetricsTracer) NoAnswer(string) {
	m.searches.WithLabelValues("none").Inc()
}
