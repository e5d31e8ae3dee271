package learning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the learning core. A nil
// *Metrics records nothing.
type Metrics struct {
	learnSteps          *prometheus.CounterVec
	selections          *prometheus.CounterVec
	conflicts           prometheus.Counter
	retriesExhausted    prometheus.Counter
	epsilon             *prometheus.GaugeVec
	replayed            prometheus.Counter
	aggregationDuration prometheus.Histogram
	aggregationWrites   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		learnSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qlearn_learn_steps_total",
			Help: "Learning steps by result",
		}, []string{"result"}),
		selections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qlearn_selections_total",
			Help: "Action selections by knowledge source",
		}, []string{"source"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearn_optimistic_conflicts_total",
			Help: "Conditional Q-value writes that lost a race",
		}),
		retriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearn_retries_exhausted_total",
			Help: "Q-value updates abandoned after exhausting retries",
		}),
		epsilon: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qlearn_epsilon",
			Help: "Current exploration rate per agent",
		}, []string{"agent"}),
		replayed: f.NewCounter(prometheus.CounterOpts{
			Name: "qlearn_replayed_experiences_total",
			Help: "Experiences re-fed through the update rule",
		}),
		aggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qlearn_aggregation_duration_seconds",
			Help:    "Duration of hierarchical aggregation passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		aggregationWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qlearn_aggregation_writes_total",
			Help: "Aggregated Q-values written by scope kind",
		}, []string{"scope"}),
	}
}

func (m *Metrics) learnStep(result string) {
	if m != nil {
		m.learnSteps.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) selection(source Source) {
	if m != nil {
		m.selections.WithLabelValues(string(source)).Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) exhausted() {
	if m != nil {
		m.retriesExhausted.Inc()
	}
}

func (m *Metrics) setEpsilon(agentID string, v float64) {
	if m != nil {
		m.epsilon.WithLabelValues(agentID).Set(v)
	}
}

func (m *Metrics) replay(n int) {
	if m != nil {
		m.replayed.Add(float64(n))
	}
}

func (m *Metrics) aggregation(seconds float64, categoryWrites, fleetWrites int) {
	if m == nil {
		return
	}
	m.aggregationDuration.Observe(seconds)
	m.aggregationWrites.WithLabelValues("category").Add(float64(categoryWrites))
	m.aggregationWrites.WithLabelValues("fleet").Add(float64(fleetWrites))
}
