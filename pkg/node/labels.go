package node

import (
	"fmt"
	"sort"
	"strings"
)

// Pod label and scheduling-label keys, grounded on the wire form in
// spec.md §6. Centralized here, in the package that owns the Node type,
// the way the teacher centralizes its own label keys in one file next to
// the types they tag.
const (
	AppLabelKey          = "elasticjob.elasticjob.org/app"
	ReplicaTypeLabelKey  = "elasticjob.elasticjob.org/replica-type"
	ReplicaIndexLabelKey = "elasticjob.elasticjob.org/replica-index"
	RankIndexLabelKey    = "elasticjob.elasticjob.org/rank-index"
	RelaunchCountLabelKey = "elasticjob.elasticjob.org/relaunch-count"
	JobKeyLabelKey       = "elasticjob.elasticjob.org/job-key"

	// NodeGroupSchedulingLabelKey is applied to the pod spec so the
	// cluster scheduler can honor the node's scheduling group.
	NodeGroupSchedulingLabelKey = "elasticjob.elasticjob.org/node-group"
)

// UniqueLabels returns the label set that identifies a node instance
// uniquely across relaunches: (job, type, rank, replica_index).
func UniqueLabels(jobName string, n Node) map[string]string {
	return map[string]string{
		AppLabelKey:          jobName,
		ReplicaTypeLabelKey:  string(n.Type),
		ReplicaIndexLabelKey: fmt.Sprintf("%d", n.ID),
		RankIndexLabelKey:    fmt.Sprintf("%d", n.RankIndex),
	}
}

// PodLabels returns the full label set applied to a node's pod spec.
func PodLabels(jobName string, n Node) map[string]string {
	labels := UniqueLabels(jobName, n)
	labels[RelaunchCountLabelKey] = fmt.Sprintf("%d", n.RelaunchCount)
	labels[JobKeyLabelKey] = jobName
	return labels
}

// SelectorString renders a label map as a deterministic k8s label
// selector string ("k1=v1,k2=v2", keys sorted), used by the pipeline's
// deletion-filtering recheck against the scheduler's live pod list.
func SelectorString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// ServiceName returns the headless service name/address for a node, per
// the wire form `<job>-edljob-<type>-<id>.<namespace>.svc:<port>`.
func ServiceName(jobName, namespace string, n Node, port int32) string {
	return fmt.Sprintf("%s-edljob-%s-%d.%s.svc:%d", jobName, n.Type, n.ID, namespace, port)
}
