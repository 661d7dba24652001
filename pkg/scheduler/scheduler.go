// Package scheduler implements the actuator: the single entry point that
// turns a ScalePlan into pod/service mutations against the cluster. A
// bounded create queue, drained by a worker goroutine, carries launch
// requests; Scale waits for the launches it enqueued, which keeps plans
// totally ordered, mirroring the
// teacher's ScaleDownManager (bounded operation, own lock, own metrics)
// generalized from "drain underutilized nodes" to "create/remove pods".
package scheduler

import (
	"context"

	corev1 "k8s.io/api/core/v1"

	"github.com/elasticjob/master/pkg/node"
)

// Scheduler is the actuator contract consumed by the job manager and the
// event pipeline's deletion-filtering check.
type Scheduler interface {
	// Start launches the create-queue worker pool. It returns once the
	// pool goroutine is running; it does not block.
	Start(ctx context.Context) error
	// Stop halts the create-queue worker; launches still queued are not
	// drained.
	Stop()
	// Scale accepts one ScalePlan. Calls are serialized: a call blocks
	// until every launch it enqueued has been created (or permanently
	// failed), so plans are applied in the order Scale was called.
	Scale(ctx context.Context, plan node.ScalePlan) error
	// ListNamespacedPod returns live pods matching a label selector, used
	// by the event pipeline's deletion-filtering check.
	ListNamespacedPod(ctx context.Context, labelSelector string) ([]corev1.Pod, error)
	// CordonNode marks a cluster node unschedulable ahead of a node-level
	// maintenance action.
	CordonNode(ctx context.Context, host string) error
}

// PodStatsSnapshot is the per-type alive-pod count the TF_CONFIG builder
// and the create-queue diff consult.
type PodStatsSnapshot map[node.Type]int32
