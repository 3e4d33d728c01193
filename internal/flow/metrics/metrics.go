package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for flow routing and review.
type Metrics struct {
	// Step the resolver sent citizens to, by flow
	Resolutions *prometheus.CounterVec

	// Citizen submissions by flow and outcome (ok, invalid, locked, error)
	Submissions *prometheus.CounterVec

	// Review decisions by flow, stage and decision
	Decisions *prometheus.CounterVec

	// Decisions refused because the pipeline moved on under the reviewer
	DecisionConflicts *prometheus.CounterVec

	// Store round trip latency by operation
	StoreLatency *prometheus.HistogramVec
}

// New registers the flow metrics with reg, or the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_flow_resolutions_total",
			Help: "Step resolutions by flow and resulting step",
		}, []string{"flow", "step"}),

		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_flow_submissions_total",
			Help: "Citizen submissions by flow and outcome",
		}, []string{"flow", "outcome"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_flow_decisions_total",
			Help: "Recorded review decisions by flow, stage and decision",
		}, []string{"flow", "stage", "decision"}),

		DecisionConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_flow_decision_conflicts_total",
			Help: "Review decisions refused because the pipeline state changed",
		}, []string{"flow"}),

		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_flow_store_duration_seconds",
			Help:    "Duration of flow document store operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
	}
}

func (m *Metrics) IncrementResolution(flow, step string) {
	if m != nil {
		if step == "" {
			step = "none"
		}
		m.Resolutions.WithLabelValues(flow, step).Inc()
	}
}

func (m *Metrics) IncrementSubmission(flow, outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(flow, outcome).Inc()
	}
}

func (m *Metrics) IncrementDecision(flow, stage, decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(flow, stage, decision).Inc()
	}
}

func (m *Metrics) IncrementDecisionConflict(flow string) {
	if m != nil {
		m.DecisionConflicts.WithLabelValues(flow).Inc()
	}
}

// ObserveStoreLatency records one store call.
func (m *Metrics) ObserveStoreLatency(op string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}
