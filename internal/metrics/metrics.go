// Package metrics holds the prometheus collectors for scheduling,
// enrollment, and mastery operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics tracks recommendation runs, overlay writes, and mastery updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecommendationsTotal  *prometheus.CounterVec
	RecommendDuration     prometheus.Histogram
	CandidatesReturned    prometheus.Histogram
	CustomizationsTotal   *prometheus.CounterVec
	EnrollmentsTotal      *prometheus.CounterVec
	MasteryUpdatesTotal   *prometheus.CounterVec
	ClampedScoresTotal    prometheus.Counter
	LockWaitDuration      prometheus.Histogram
	IntegrityFailureTotal prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecommendationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathwise_recommendations_total",
			Help: "Recommendation runs by result (ok, empty, error)",
		}, []string{"result"}),
		RecommendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathwise_recommend_duration_seconds",
			Help:    "Duration of recommendation runs including collaborator fetches",
			Buckets: durationBuckets,
		}),
		CandidatesReturned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathwise_recommend_candidates",
			Help:    "Number of candidates returned per recommendation",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		CustomizationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathwise_customizations_total",
			Help: "Customization patches applied by result",
		}, []string{"result"}),
		EnrollmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathwise_enrollments_total",
			Help: "Enrollment lifecycle events (created, deleted)",
		}, []string{"event"}),
		MasteryUpdatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathwise_mastery_updates_total",
			Help: "Outcome EMA values written by update kind (single, batch, evidence)",
		}, []string{"kind"}),
		ClampedScoresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pathwise_mastery_clamped_scores_total",
			Help: "Raw scores outside [0,1] that were clamped before storage",
		}),
		LockWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pathwise_lock_wait_seconds",
			Help:    "Time spent waiting for a per-key lock",
			Buckets: durationBuckets,
		}),
		IntegrityFailureTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pathwise_overlay_integrity_failures_total",
			Help: "Overlays found without a curriculum reference",
		}),
	}
}

// IncRecommendation records a finished recommendation run.
func (m *Metrics) IncRecommendation(result string) {
	if m == nil {
		return
	}
	m.RecommendationsTotal.WithLabelValues(result).Inc()
}

// ObserveRecommend records the duration of a recommendation run.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRecommend(start time.Time) {
	if m == nil {
		return
	}
	m.RecommendDuration.Observe(time.Since(start).Seconds())
}

// ObserveCandidates records how many candidates a run returned.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.CandidatesReturned.Observe(float64(n))
}

// IncCustomization records an applied or rejected customization patch.
func (m *Metrics) IncCustomization(result string) {
	if m == nil {
		return
	}
	m.CustomizationsTotal.WithLabelValues(result).Inc()
}

// IncEnrollment records an enrollment lifecycle event.
func (m *Metrics) IncEnrollment(event string) {
	if m == nil {
		return
	}
	m.EnrollmentsTotal.WithLabelValues(event).Inc()
}

// AddMasteryUpdates records n outcome values written by kind.
func (m *Metrics) AddMasteryUpdates(kind string, n int) {
	if m == nil {
		return
	}
	m.MasteryUpdatesTotal.WithLabelValues(kind).Add(float64(n))
}

// AddClamped records n raw scores that had to be clamped.
func (m *Metrics) AddClamped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ClampedScoresTotal.Add(float64(n))
}

// ObserveLockWait records how long a caller waited for a key lock.
// Call with time.Now() taken before Lock.
func (m *Metrics) ObserveLockWait(start time.Time) {
	if m == nil {
		return
	}
	m.LockWaitDuration.Observe(time.Since(start).Seconds())
}

// IncIntegrityFailure records an overlay missing its curriculum reference.
func (m *Metrics) IncIntegrityFailure() {
	if m == nil {
		return
	}
	m.IntegrityFailureTotal.Inc()
}
