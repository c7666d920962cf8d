package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const namespace = "risk"

// Registry holds the engine's Prometheus collectors. A nil *Registry is
// valid and records nothing.
type Registry struct {
	// Scoring
	AssessmentsTotal   *prometheus.CounterVec
	RiskScore          prometheus.Histogram
	ProcessingDuration *prometheus.HistogramVec

	// Profiles and events
	ProfileUpdates   prometheus.Counter
	ProfileConflicts *prometheus.CounterVec
	ReplayedTotal    prometheus.Counter
	ProcessingErrors *prometheus.CounterVec

	// Anomalies and alerts
	AnomaliesTotal *prometheus.CounterVec
	AlertsTotal    prometheus.Counter

	// Bus
	MessagesTotal *prometheus.CounterVec
	DeadLetters   *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewRegistry registers every collector with reg
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)

	return &Registry{
		AssessmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "assessments_total",
			Help:      "Transactions assessed, by risk level and decision.",
		}, []string{"level", "decision"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "score",
			Help:      "Distribution of aggregate risk scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		ProcessingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "processing_duration_seconds",
			Help:      "End to end processing time of one transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ProfileUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "updates_total",
			Help:      "Significant profile updates persisted.",
		}),
		ProfileConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "conflicts_total",
			Help:      "Concurrent writers that lost an event append and reloaded, by cause.",
		}, []string{"cause"}),
		ReplayedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "replayed_total",
			Help:      "Transactions that were already recorded and replayed.",
		}),
		ProcessingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Processing failures by error type.",
		}, []string{"type"}),
		AnomaliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Anomalies detected, by type and severity.",
		}, []string{"type", "severity"}),
		AlertsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "alerts_total",
			Help:      "High risk alerts published.",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Inbound messages handled, by result.",
		}, []string{"stream", "result"}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dead_letters_total",
			Help:      "Messages moved to the dead letter stream.",
		}, []string{"stream", "reason"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveAssessment records a completed assessment
func (r *Registry) ObserveAssessment(a *risk.Assessment, elapsed time.Duration, replayed bool) {
	if r == nil || a == nil {
		return
	}
	r.AssessmentsTotal.WithLabelValues(string(a.Level), string(a.Decision)).Inc()
	r.RiskScore.Observe(float64(a.Score))
	outcome := "recorded"
	if replayed {
		outcome = "replayed"
		r.ReplayedTotal.Inc()
	}
	r.ProcessingDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveProfileUpdate counts a persisted profile update
func (r *Registry) ObserveProfileUpdate() {
	if r == nil {
		return
	}
	r.ProfileUpdates.Inc()
}

// ObserveProfileConflict counts a lost event append that forces a reload.
// cause is "version" or "duplicate".
func (r *Registry) ObserveProfileConflict(cause string) {
	if r == nil {
		return
	}
	r.ProfileConflicts.WithLabelValues(cause).Inc()
}

// ObserveError counts a failed transaction by error type
func (r *Registry) ObserveError(errType string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ProcessingErrors.WithLabelValues(errType).Inc()
	r.ProcessingDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
}

// ObserveAnomalies counts detected anomalies
func (r *Registry) ObserveAnomalies(found []anomaly.Anomaly) {
	if r == nil {
		return
	}
	for _, a := range found {
		r.AnomaliesTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// ObserveAlert counts a published high risk alert
func (r *Registry) ObserveAlert() {
	if r == nil {
		return
	}
	r.AlertsTotal.Inc()
}

// ObserveMessage counts an inbound bus message
func (r *Registry) ObserveMessage(stream, result string) {
	if r == nil {
		return
	}
	r.MessagesTotal.WithLabelValues(stream, result).Inc()
}

// ObserveDeadLetter counts a dead lettered message
func (r *Registry) ObserveDeadLetter(stream, reason string) {
	if r == nil {
		return
	}
	r.DeadLetters.WithLabelValues(stream, reason).Inc()
}

// ObserveHTTP records one HTTP request
func (r *Registry) ObserveHTTP(route string, code string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, code).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
