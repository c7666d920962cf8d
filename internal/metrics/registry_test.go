package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

func TestRegistry_Observe(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	a := &risk.Assessment{Score: 60, Level: risk.LevelHigh, Decision: risk.DecisionManualReview}
	r.ObserveAssessment(a, 5*time.Millisecond, false)
	r.ObserveAssessment(a, time.Millisecond, true)
	r.ObserveAnomalies([]anomaly.Anomaly{
		{Type: anomaly.TypeVelocitySpike, Severity: risk.SeverityHigh},
		{Type: anomaly.TypeVelocitySpike, Severity: risk.SeverityHigh},
	})
	r.ObserveDeadLetter("transaction-validated", "validation")
	r.ObserveProfileConflict("version")
	r.ObserveProfileConflict("version")
	r.ObserveProfileConflict("duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.AssessmentsTotal.WithLabelValues("HIGH", "MANUAL_REVIEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ReplayedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.AnomaliesTotal.WithLabelValues("VELOCITY_SPIKE", "HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DeadLetters.WithLabelValues("transaction-validated", "validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.ProfileConflicts.WithLabelValues("version")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ProfileConflicts.WithLabelValues("duplicate")))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveAssessment(&risk.Assessment{}, time.Second, false)
		r.ObserveProfileUpdate()
		r.ObserveProfileConflict("version")
		r.ObserveError("transport", time.Second)
		r.ObserveAlert()
		r.ObserveMessage("s", "ok")
		r.ObserveHTTP("/health", "200", time.Millisecond)
	})
}
