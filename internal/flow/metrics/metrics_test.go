package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementResolution("notify-death", "")
	m.IncrementResolution("notify-death", "informant")
	m.IncrementDecision("notify-death", "registrar-review", "approved")
	m.IncrementDecisionConflict("notify-death")
	m.IncrementSubmission("notify-death", "ok")
	m.ObserveStoreLatency("read", 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("notify-death", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("notify-death", "informant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("notify-death", "registrar-review", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionConflicts.WithLabelValues("notify-death")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("notify-death", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StoreLatency))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementResolution("f", "s")
		m.IncrementSubmission("f", "ok")
		m.IncrementDecision("f", "s", "approved")
		m.IncrementDecisionConflict("f")
		m.ObserveStoreLatency("read", time.Millisecond)
	})
}
