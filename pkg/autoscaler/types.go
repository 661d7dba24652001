// Package autoscaler consumes externally-pushed, user-supplied scale plans
// (spec.md §4.3's "scale-plan monitor") and executes them against the live
// node groups: diff desired counts against what NodeStore already tracks,
// fold the difference into a node.ScalePlan via nodegroup.Manager, and hand
// it to the Scheduler. Grounded on dist_job_manager.py's
// `_monitor_scale_plan_crd`/`execute_job_optimization_plan`, structurally on
// the teacher's pkg/rebalancer (its analyze-then-plan-then-execute split
// generalizes to diff-then-merge-then-Scale; the teacher's batching/
// rollback machinery has no counterpart here since this plan is a flat
// desired-count map, not a node replacement migration).
package autoscaler

import "github.com/elasticjob/master/pkg/node"

// Plan is the externally-pushed, user-supplied resource request: the
// desired count and per-node resource for each node type the caller wants
// to adjust. Node types omitted from the map are left untouched.
type Plan struct {
	// ID identifies the plan for logging/metrics; callers may leave it
	// empty.
	ID string
	// DesiredGroupResources maps node type to the desired count/resource,
	// the wire shape pushed by the user (an analogue of the Scaler CRD's
	// node_group_resources field).
	DesiredGroupResources map[node.Type]node.GroupResource
}

// Empty reports whether the plan carries no instruction.
func (p Plan) Empty() bool {
	return len(p.DesiredGroupResources) == 0
}
