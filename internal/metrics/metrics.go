// Package metrics defines the Prometheus collectors shared by the API and the
// broker. Collectors register with the default registry on package init and
// are served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jobvault"

// JobsEnqueuedTotal counts jobs accepted by the producer.
// Label queue is the destination queue name.
var JobsEnqueuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Total number of jobs inserted as queued.",
	},
	[]string{"queue"},
)

// NotifyErrorsTotal counts enqueue hints that could not be published
var NotifyErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_errors_total",
		Help:      "Total number of enqueue notifications that failed to publish.",
	},
	[]string{"queue"},
)

// JobsClaimedTotal counts queued to consumed transitions
var JobsClaimedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_claimed_total",
		Help:      "Total number of jobs claimed by this broker.",
	},
	[]string{"queue"},
)

// JobsFinishedTotal counts terminal transitions.
// Label state is done or rejected.
var JobsFinishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Total number of jobs moved to a terminal state.",
	},
	[]string{"queue", "actor", "state"},
)

// JobsReclaimedTotal counts consumed jobs returned to queued after their lease lapsed
var JobsReclaimedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_reclaimed_total",
		Help:      "Total number of jobs requeued because their lease expired.",
	},
)

// JobDuration measures actor execution time.
var JobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Duration of actor execution from claim to terminal write.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"actor", "state"},
)

// StoreRetriesTotal counts store calls retried after a transient error.
// Label op names the store operation.
var StoreRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Total number of store operations retried after a transient failure.",
	},
	[]string{"op"},
)

// WakeupsTotal counts broker wake-ups by source: notify or poll
var WakeupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broker_wakeups_total",
		Help:      "Total number of broker wake-ups, by source.",
	},
	[]string{"source"},
)

// HTTPRequestsTotal counts API requests.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests, by route and status code.",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration measures API request latency.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests, by route.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)
