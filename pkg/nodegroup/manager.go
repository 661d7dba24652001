// Package nodegroup implements the per-type NodeGroupManager: the same
// Manager type is instantiated once per node.Type (worker, chief, ps,
// evaluator) and bound to the shared jobcontext.Store, mirroring the
// teacher's single ScaleDownManager handling every NodeGroup the same way
// regardless of its workload label.
package nodegroup

import (
	"github.com/elasticjob/master/pkg/jobcontext"
	"github.com/elasticjob/master/pkg/node"
)

// Manager is the per-type NodeGroupManager.
type Manager struct {
	store *jobcontext.Store
	typ   node.Type
}

// NewManager returns a Manager scoped to one node type.
func NewManager(store *jobcontext.Store, typ node.Type) *Manager {
	return &Manager{store: store, typ: typ}
}

// RelaunchNode allocates a fresh id (max existing + 1), clones the given
// node's config and relaunch budget into it, inserts the new node into the
// store, and optionally appends the old one to RemoveNodes.
func (m *Manager) RelaunchNode(old node.Node, removeExited bool) node.ScalePlan {
	plan := node.NewScalePlan()

	nextID := m.store.MaxID(m.typ) + 1

	fresh := old.Clone()
	fresh.ID = nextID
	fresh.Status = node.StatusInitial
	fresh.ExitReason = node.ExitReasonNone
	fresh.RelaunchCount = old.RelaunchCount + 1
	fresh.MaxRelaunchCount = old.MaxRelaunchCount
	fresh.IsReleased = false
	fresh.IsRecoveredOOM = false
	fresh.CreateTime = old.CreateTime
	fresh.StartTime = old.CreateTime
	fresh.HeartbeatTime = old.CreateTime

	m.store.UpdateJobNode(fresh)
	plan.LaunchNodes = append(plan.LaunchNodes, fresh)

	if removeExited {
		plan.RemoveNodes = append(plan.RemoveNodes, old)
	}
	return plan
}

func (m *Manager) maxIDLocked() int32 {
	max := int32(-1)
	for _, n := range m.store.JobNodes() {
		if n.Type == m.typ && n.ID > max {
			max = n.ID
		}
	}
	return max
}

// ScaleUp appends count fresh initial nodes (ids starting at max+1) with
// the given per-node resource spec, returning a plan to launch them.
func (m *Manager) ScaleUp(count int32, resource node.ResourceSpec) node.ScalePlan {
	plan := node.NewScalePlan()
	if count <= 0 {
		return plan
	}

	next := m.store.MaxID(m.typ) + 1
	for i := int32(0); i < count; i++ {
		n := node.Node{
			Type:             m.typ,
			ID:               next + i,
			Resource:         resource,
			Status:           node.StatusInitial,
			Relaunchable:     true,
			MaxRelaunchCount: node.MaxSystemRelaunchCount,
		}
		m.store.UpdateJobNode(n)
		plan.LaunchNodes = append(plan.LaunchNodes, n)
	}
	return plan
}

// ScaleDown marks the youngest count non-released nodes of this type
// released, returning a removal-only plan.
func (m *Manager) ScaleDown(count int32) node.ScalePlan {
	plan := node.NewScalePlan()
	if count <= 0 {
		return plan
	}

	candidates := m.aliveByDescendingID()
	for i := int32(0); i < count && int(i) < len(candidates); i++ {
		n := candidates[i]
		n.IsReleased = true
		m.store.UpdateJobNode(n)
		plan.RemoveNodes = append(plan.RemoveNodes, n)
	}
	return plan
}

func (m *Manager) aliveByDescendingID() []node.Node {
	var alive []node.Node
	for _, n := range m.store.JobNodesByType(m.typ) {
		if !n.IsReleased && !n.Status.IsTerminal() {
			alive = append(alive, n)
		}
	}
	for i := 0; i < len(alive); i++ {
		for j := i + 1; j < len(alive); j++ {
			if alive[j].ID > alive[i].ID {
				alive[i], alive[j] = alive[j], alive[i]
			}
		}
	}
	return alive
}

// DeleteExitedWorkers returns a removal-only plan for every node of this
// type that has already exited (HasExited).
func (m *Manager) DeleteExitedWorkers() node.ScalePlan {
	plan := node.NewScalePlan()
	for _, n := range m.store.JobNodesByType(m.typ) {
		if n.HasExited() {
			plan.RemoveNodes = append(plan.RemoveNodes, n)
		}
	}
	return plan
}

// DeleteRunningWorkers returns a removal-only plan for every currently
// running node of this type, used when the job is stopping.
func (m *Manager) DeleteRunningWorkers() node.ScalePlan {
	plan := node.NewScalePlan()
	for _, n := range m.store.JobNodesByType(m.typ) {
		if n.Status == node.StatusRunning {
			n.IsReleased = true
			m.store.UpdateJobNode(n)
			plan.RemoveNodes = append(plan.RemoveNodes, n)
		}
	}
	return plan
}

// GetRunningNodes returns every node of this type currently running.
func (m *Manager) GetRunningNodes() []node.Node {
	var out []node.Node
	for _, n := range m.store.JobNodesByType(m.typ) {
		if n.Status == node.StatusRunning {
			out = append(out, n)
		}
	}
	return out
}

// AllNodesExited reports whether every node of this type has exited.
func (m *Manager) AllNodesExited() bool {
	return m.allMatch(func(n node.Node) bool { return n.HasExited() })
}

// AllNodesFailed reports whether every node of this type is in the failed
// status.
func (m *Manager) AllNodesFailed() bool {
	return m.allMatch(func(n node.Node) bool { return n.Status == node.StatusFailed })
}

// AllNodesDeleted reports whether every node of this type is deleted.
func (m *Manager) AllNodesDeleted() bool {
	return m.allMatch(func(n node.Node) bool { return n.Status == node.StatusDeleted })
}

func (m *Manager) allMatch(pred func(node.Node) bool) bool {
	nodes := m.store.JobNodesByType(m.typ)
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if !pred(n) {
			return false
		}
	}
	return true
}

// IsAllWorkersNodeCheckFailed reports whether every node of this type
// (including relaunched replicas) has self-reported NODE_CHECK_FAILED.
func (m *Manager) IsAllWorkersNodeCheckFailed() bool {
	return m.allMatch(func(n node.Node) bool {
		return n.ReportedStatus.Status == node.ReportedNodeCheckFailed
	})
}

// IsAllInitialWorkersNodeCheckFailed reports whether every node belonging
// to the first-generation cohort (id < minCount) has self-reported
// NODE_CHECK_FAILED. The check is keyed on id only: relaunched replicas get
// a fresh id above every existing one, so they fall outside the cohort and
// do not reset its verdict.
func (m *Manager) IsAllInitialWorkersNodeCheckFailed(minCount int32) bool {
	nodes := m.store.JobNodesByType(m.typ)
	checked := 0
	for _, n := range nodes {
		if n.ID >= minCount {
			continue
		}
		checked++
		if n.ReportedStatus.Status != node.ReportedNodeCheckFailed {
			return false
		}
	}
	return checked > 0
}
