package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LeaseAcquired counts successful acquires, labelled by resource type and
	// whether the caller already held the lease.
	LeaseAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_lease_acquired_total",
		Help: "Total number of successful lease acquires",
	}, []string{"resource_type", "renewed"})
	// LeaseConflicts counts acquires that lost to another holder.
	LeaseConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_lease_conflicts_total",
		Help: "Total number of acquires rejected because another holder owns the lease",
	}, []string{"resource_type"})
	// LeaseReleased counts voluntary releases.
	LeaseReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_lease_released_total",
		Help: "Total number of lease releases",
	}, []string{"resource_type"})
	// LeaseSwept counts leases removed by the expiry sweeper.
	LeaseSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_lease_swept_total",
		Help: "Total number of expired leases removed by the sweeper",
	}, []string{"resource_type"})
	// ReviewTransitions counts applied review and meta-review transitions.
	ReviewTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_review_transitions_total",
		Help: "Total number of review status transitions",
	}, []string{"kind", "to"})
	// SelectorAttempts counts claim attempts made by the selector, by outcome.
	SelectorAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskreview_selector_attempts_total",
		Help: "Total number of selector claim attempts",
	}, []string{"kind", "outcome"})
	// SweepDuration observes one full sweep run.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskreview_sweep_duration_seconds",
		Help:    "Duration of expiry sweep runs",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers all collectors on the provided registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		LeaseAcquired,
		LeaseConflicts,
		LeaseReleased,
		LeaseSwept,
		ReviewTransitions,
		SelectorAttempts,
		SweepDuration,
	)
}
