// Package jobevents turns relaunch/not-relaunch/early-stop decisions into
// cluster-visible Kubernetes Events, the user-facing counterpart to the
// agent-facing diagnosis.Action queue. Grounded on dist_job_manager.py's
// `_report_event`/`EventReportConstants` and structurally on the teacher's
// pkg/events.EventEmitter (broadcaster + recorder wrapping one
// corev1.EventSource, a thin Emit* method per decision kind instead of
// per VPSie lifecycle phase).
package jobevents

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"

	"github.com/elasticjob/master/pkg/metrics"
)

// Event type strings, matching corev1's own (kept as local constants so
// callers don't need to import corev1 themselves).
const (
	TypeNormal  = corev1.EventTypeNormal
	TypeWarning = corev1.EventTypeWarning
)

// Action reasons, matching original_source's EventReportConstants.
const (
	ActionNotRelaunch = "ACTION_NOT_RELAUNCH"
	ActionEarlyStop   = "ACTION_EARLY_STOP"
	ActionStop        = "ACTION_STOP"
	ActionRelaunch    = "ACTION_RELAUNCH"
)

// Reporter reports a single event about the job. Grounded on
// `_report_event`'s (event_type, instance, action, msg, labels) signature,
// minus the labels map: this repo has no audit backend to key labels
// against, only the Kubernetes event stream.
type Reporter interface {
	Report(eventType, instance, action, message string)
}

// K8sReporter reports job events as Kubernetes Events scoped to the job's
// ObjectReference, via client-go's event broadcaster/recorder pair.
type K8sReporter struct {
	recorder record.EventRecorder
	jobRef   corev1.ObjectReference
}

// NewK8sReporter returns a K8sReporter that records events against
// (namespace, jobName) and sinks them through client. component names the
// reporting process in the emitted event's source, matching
// corev1.EventSource{Component: ...}.
func NewK8sReporter(client kubernetes.Interface, namespace, jobName, component string) *K8sReporter {
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&corev1.EventSinkImpl{
		Interface: client.CoreV1().Events(namespace),
	})

	return &K8sReporter{
		recorder: broadcaster.NewRecorder(scheme.Scheme, corev1.EventSource{Component: component}),
		jobRef: corev1.ObjectReference{
			Kind:      "ElasticJob",
			Namespace: namespace,
			Name:      jobName,
		},
	}
}

// Report emits one Kubernetes Event and records the reported-events metric.
// instance, when non-empty, is folded into the message since ObjectReference
// here always targets the job as a whole, not a specific node's object.
func (r *K8sReporter) Report(eventType, instance, action, message string) {
	msg := message
	if instance != "" {
		msg = fmt.Sprintf("[%s] %s", instance, message)
	}
	r.recorder.Event(&r.jobRef, eventType, action, msg)
	metrics.RecordReportedEvent(eventType, action)
}

// ReportNotRelaunch reports a relaunch denial for a node instance.
func (r *K8sReporter) ReportNotRelaunch(instance, reason string) {
	r.Report(TypeNormal, instance, ActionNotRelaunch, reason)
}

// ReportEarlyStop reports an early-stop decision.
func (r *K8sReporter) ReportEarlyStop(exitReason, message string) {
	r.Report(TypeWarning, "", ActionEarlyStop, fmt.Sprintf("%s: %s", exitReason, message))
}

// ReportRelaunch reports a successful relaunch for a node instance.
func (r *K8sReporter) ReportRelaunch(instance string) {
	r.Report(TypeNormal, instance, ActionRelaunch, "node relaunched")
}
