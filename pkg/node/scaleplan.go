package node

// GroupResource is the declarative desired count and per-node resource
// for one node type.
type GroupResource struct {
	Count    int32        `json:"count"`
	Resource ResourceSpec `json:"resource"`
}

// ScalePlan is the value object mediating every cluster mutation: a
// declarative desired-count map plus imperative launch/remove lists and
// the authoritative PS membership for env construction.
type ScalePlan struct {
	NodeGroupResources map[Type]GroupResource `json:"node_group_resources,omitempty"`
	LaunchNodes        []Node                 `json:"launch_nodes,omitempty"`
	RemoveNodes        []Node                 `json:"remove_nodes,omitempty"`
	PSAddrs            []string               `json:"ps_addrs,omitempty"`
}

// Empty reports whether the plan carries no instruction at all.
func (p ScalePlan) Empty() bool {
	return len(p.NodeGroupResources) == 0 &&
		len(p.LaunchNodes) == 0 &&
		len(p.RemoveNodes) == 0
}

// NewScalePlan returns an empty, ready-to-populate plan.
func NewScalePlan() ScalePlan {
	return ScalePlan{NodeGroupResources: map[Type]GroupResource{}}
}

// Event is a lifecycle event observed from the cluster or synthesized by
// the pipeline. Node is always a value copy, never an alias into the
// store, so synthesized events are safe to hand around concurrently.
type Event struct {
	EventType EventType
	Node      Node
}
