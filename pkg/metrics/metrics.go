// Package metrics declares the Prometheus series exported by the job
// master: node counts by type/status, relaunch decisions, scale-plan
// emissions, and early-stop/hang events.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	// Namespace is the metrics namespace for the job master.
	Namespace = "elasticjob_master"
)

var (
	// NodeCount tracks the current number of nodes per type and status.
	NodeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "node_count",
			Help:      "Current number of nodes by type and status",
		},
		[]string{"node_type", "status"},
	)

	// RelaunchTotal tracks relaunch decisions by outcome and reason.
	RelaunchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "relaunch_total",
			Help:      "Total number of relaunch decisions",
		},
		[]string{"node_type", "allowed", "reason"},
	)

	// ScalePlanEmittedTotal tracks scale plans handed to the scheduler.
	ScalePlanEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "scale_plan_emitted_total",
			Help:      "Total number of scale plans emitted to the scheduler",
		},
		[]string{"source"},
	)

	// ScalePlanNodesLaunched tracks nodes launched per scale plan.
	ScalePlanNodesLaunched = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "scale_plan_nodes_launched",
			Help:      "Number of nodes launched per scale plan",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		},
		[]string{"node_type"},
	)

	// ScalePlanNodesRemoved tracks nodes removed per scale plan.
	ScalePlanNodesRemoved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "scale_plan_nodes_removed",
			Help:      "Number of nodes removed per scale plan",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		},
		[]string{"node_type"},
	)

	// EarlyStopTotal tracks early-stop decisions by exit reason.
	EarlyStopTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "early_stop_total",
			Help:      "Total number of early-stop decisions by exit reason",
		},
		[]string{"exit_reason"},
	)

	// HangDetectedTotal tracks pending-hang detections.
	HangDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hang_detected_total",
			Help:      "Total number of pending-hang detections by strategy",
		},
		[]string{"strategy"},
	)

	// WatcherErrorsTotal tracks transient watcher list/watch errors.
	WatcherErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watcher_errors_total",
			Help:      "Total number of transient watcher list/watch errors",
		},
		[]string{"op"},
	)

	// EventsDroppedTotal tracks events dropped by process_event_safely.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped after a processing failure",
		},
		[]string{"event_type"},
	)

	// SchedulerCreateQueueDepth tracks the scheduler's pending create queue depth.
	SchedulerCreateQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "scheduler_create_queue_depth",
			Help:      "Current depth of the scheduler's bounded create queue",
		},
	)

	// PodCreateRetriesTotal tracks pod creation retries by node type.
	PodCreateRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pod_create_retries_total",
			Help:      "Total number of pod creation retries",
		},
		[]string{"node_type"},
	)

	// WatcherCircuitBreakerState tracks the node-watcher circuit breaker's
	// current state (1 for the active state, 0 otherwise).
	WatcherCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "watcher_circuit_breaker_state",
			Help:      "Current node-watcher circuit breaker state",
		},
		[]string{"state"},
	)

	// WatcherCircuitBreakerOpenedTotal tracks rejections while the
	// node-watcher circuit breaker is open.
	WatcherCircuitBreakerOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watcher_circuit_breaker_opened_total",
			Help:      "Total number of watch attempts rejected by the open circuit breaker",
		},
	)

	// ReportedEventsTotal tracks user-visible events reported by the job
	// (relaunch/not-relaunch/early-stop decisions surfaced as Kubernetes
	// Events) by type and action.
	ReportedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reported_events_total",
			Help:      "Total number of user-visible job events reported",
		},
		[]string{"event_type", "action"},
	)
)

// Register registers all metrics with the given registerer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		NodeCount,
		RelaunchTotal,
		ScalePlanEmittedTotal,
		ScalePlanNodesLaunched,
		ScalePlanNodesRemoved,
		EarlyStopTotal,
		HangDetectedTotal,
		WatcherErrorsTotal,
		EventsDroppedTotal,
		SchedulerCreateQueueDepth,
		PodCreateRetriesTotal,
		WatcherCircuitBreakerState,
		WatcherCircuitBreakerOpenedTotal,
		ReportedEventsTotal,
	)
}

// Reset resets all metrics except WatcherCircuitBreakerOpenedTotal, a plain
// counter that cannot be reset and keeps its value. Useful for testing.
func Reset() {
	NodeCount.Reset()
	RelaunchTotal.Reset()
	ScalePlanEmittedTotal.Reset()
	ScalePlanNodesLaunched.Reset()
	ScalePlanNodesRemoved.Reset()
	EarlyStopTotal.Reset()
	HangDetectedTotal.Reset()
	WatcherErrorsTotal.Reset()
	EventsDroppedTotal.Reset()
	SchedulerCreateQueueDepth.Set(0)
	PodCreateRetriesTotal.Reset()
	WatcherCircuitBreakerState.Reset()
	WatcherCircuitBreakerOpenedTotal.Add(0)
	ReportedEventsTotal.Reset()
}
