// Package optimizer defines ResourceOptimizer, the contract the relaunch
// policy and job manager call into when a node's resource plan needs
// recomputing. Per spec.md §1 the optimizer's own numerical policy is out
// of scope; this package fixes the contract and a conservative default
// implementation, mirroring the job-optimizer/job-resource split
// (JobResourceOptimizer / PSJobResourceOptimizer / AllreduceJobResourceOptimizer).
package optimizer

import "github.com/elasticjob/master/pkg/node"

// ResourceOptimizer computes and applies job-wide resource decisions. One
// instance is selected per job at start() time, keyed by distribution
// strategy.
type ResourceOptimizer interface {
	// UpdateJobUUID records the job identity the optimizer's decisions are
	// scoped to; called once at start.
	UpdateJobUUID(uuid string)

	// InitJobResource seeds the initial per-type resource plan for a fresh
	// job, returning the counts and resource spec NodeGroupManager should
	// scale up to.
	InitJobResource(strategy node.DistributionStrategy) map[node.Type]node.GroupResource

	// AdjustOOMResource returns the resource spec a node recovering from
	// OOM should relaunch with; the caller is responsible for checking the
	// result against JobConfig.MaxMemoryMB before applying it.
	AdjustOOMResource(n node.Node) node.ResourceSpec
}

// DefaultOptimizer is a conservative default ResourceOptimizer: it bumps
// OOM memory by a fixed percentage and seeds group resources from a static
// per-type baseline. It carries no live metrics or historical utilization
// data — those are explicitly out of scope per spec.md §1.
type DefaultOptimizer struct {
	jobUUID string

	// OOMMemoryBumpPercent is the percentage by which AdjustOOMResource
	// grows a node's MemoryMB after an OOM exit.
	OOMMemoryBumpPercent int64

	// BaselineResources seeds InitJobResource's per-type plan.
	BaselineResources map[node.Type]node.GroupResource
}

// NewDefaultOptimizer returns a DefaultOptimizer with a 50% OOM memory bump
// and the given baseline per-type resource plan.
func NewDefaultOptimizer(baseline map[node.Type]node.GroupResource) *DefaultOptimizer {
	return &DefaultOptimizer{
		OOMMemoryBumpPercent: 50,
		BaselineResources:    baseline,
	}
}

func (o *DefaultOptimizer) UpdateJobUUID(uuid string) {
	o.jobUUID = uuid
}

func (o *DefaultOptimizer) InitJobResource(strategy node.DistributionStrategy) map[node.Type]node.GroupResource {
	out := make(map[node.Type]node.GroupResource, len(o.BaselineResources))
	for t, r := range o.BaselineResources {
		out[t] = r
	}
	return out
}

func (o *DefaultOptimizer) AdjustOOMResource(n node.Node) node.ResourceSpec {
	bumped := n.Resource
	bumped.MemoryMB = n.Resource.MemoryMB + (n.Resource.MemoryMB*o.OOMMemoryBumpPercent)/100
	return bumped
}
