package metrics

import "strconv"

// RecordNodeCount records the number of nodes of a given type and status.
func RecordNodeCount(nodeType, status string, count int) {
	NodeCount.WithLabelValues(nodeType, status).Set(float64(count))
}

// RecordRelaunch records a relaunch decision.
func RecordRelaunch(nodeType string, allowed bool, reason string) {
	RelaunchTotal.WithLabelValues(nodeType, strconv.FormatBool(allowed), reason).Inc()
}

// RecordScalePlan records a scale plan emitted to the scheduler, broken
// down by launched/removed node counts per type.
func RecordScalePlan(source string, launchedByType, removedByType map[string]int) {
	ScalePlanEmittedTotal.WithLabelValues(source).Inc()
	for nodeType, n := range launchedByType {
		ScalePlanNodesLaunched.WithLabelValues(nodeType).Observe(float64(n))
	}
	for nodeType, n := range removedByType {
		ScalePlanNodesRemoved.WithLabelValues(nodeType).Observe(float64(n))
	}
}

// RecordEarlyStop records an early-stop decision.
func RecordEarlyStop(exitReason string) {
	EarlyStopTotal.WithLabelValues(exitReason).Inc()
}

// RecordHangDetected records a pending-hang detection under the given strategy.
func RecordHangDetected(strategy string) {
	HangDetectedTotal.WithLabelValues(strategy).Inc()
}

// RecordWatcherError records a transient watcher error.
func RecordWatcherError(op string) {
	WatcherErrorsTotal.WithLabelValues(op).Inc()
}

// RecordEventDropped records an event dropped after a processing failure.
func RecordEventDropped(eventType string) {
	EventsDroppedTotal.WithLabelValues(eventType).Inc()
}

// RecordCreateQueueDepth records the scheduler's current create-queue depth.
func RecordCreateQueueDepth(depth int) {
	SchedulerCreateQueueDepth.Set(float64(depth))
}

// RecordPodCreateRetry records a pod creation retry for a node type.
func RecordPodCreateRetry(nodeType string) {
	PodCreateRetriesTotal.WithLabelValues(nodeType).Inc()
}

// RecordCircuitBreakerTransition records the watcher circuit breaker
// moving from one state to another.
func RecordCircuitBreakerTransition(from, to string) {
	WatcherCircuitBreakerState.WithLabelValues(from).Set(0)
	WatcherCircuitBreakerState.WithLabelValues(to).Set(1)
}

// RecordCircuitBreakerRejected records a watch attempt rejected while the
// circuit breaker is open.
func RecordCircuitBreakerRejected() {
	WatcherCircuitBreakerOpenedTotal.Inc()
}

// RecordReportedEvent records a user-visible job event (e.g. ACTION_NOT_RELAUNCH,
// ACTION_EARLY_STOP) surfaced as a Kubernetes Event.
func RecordReportedEvent(eventType, action string) {
	ReportedEventsTotal.WithLabelValues(eventType, action).Inc()
}
