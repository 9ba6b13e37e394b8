// Package metrics wires casual's per-service and per-domain counters to
// Prometheus, grounded in shape on the teacher's control.MetricsRegistry
// (a named-value registry under a single lock) but backed by real
// collectors instead of an any-typed map, so the numbers are actually
// exportable.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors every casual process registers at
// startup. One Registry per process; components passed a reference at
// construction never create their own collectors.
type Registry struct {
	ServiceInvocations  *prometheus.CounterVec
	ServicePendingWait  *prometheus.HistogramVec
	ServiceRemoteCalls  *prometheus.CounterVec
	QueueEnqueued       *prometheus.CounterVec
	QueueDequeued       *prometheus.CounterVec
	QueueRedelivered    *prometheus.CounterVec
	DeadlineExpirations prometheus.Counter
	FanoutCompletions   prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		ServiceInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "service",
			Name:      "invocations_total",
			Help:      "Total number of completed service invocations.",
		}, []string{"service"}),
		ServicePendingWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casual",
			Subsystem: "service",
			Name:      "pending_wait_seconds",
			Help:      "Distribution of time a caller waited for a reservation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		ServiceRemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "service",
			Name:      "remote_invocations_total",
			Help:      "Total number of invocations served by a concurrent (gateway) instance.",
		}, []string{"service"}),
		QueueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of committed enqueues.",
		}, []string{"queue"}),
		QueueDequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Total number of committed dequeues.",
		}, []string{"queue"}),
		QueueRedelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "queue",
			Name:      "redelivered_total",
			Help:      "Total number of rollback-driven redeliveries.",
		}, []string{"queue"}),
		DeadlineExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "coordinate",
			Name:      "deadline_expirations_total",
			Help:      "Total number of deadline-wheel entries that fired.",
		}),
		FanoutCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casual",
			Subsystem: "coordinate",
			Name:      "fanout_completions_total",
			Help:      "Total number of fan-out rounds that completed.",
		}),
	}

	reg.MustRegister(
		m.ServiceInvocations,
		m.ServicePendingWait,
		m.ServiceRemoteCalls,
		m.QueueEnqueued,
		m.QueueDequeued,
		m.QueueRedelivered,
		m.DeadlineExpirations,
		m.FanoutCompletions,
	)
	return m
}
