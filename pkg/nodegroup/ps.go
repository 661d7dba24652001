package nodegroup

import (
	"time"

	"github.com/elasticjob/master/pkg/node"
)

// PSExtras tracks the parameter-server cluster's current and next
// membership on top of the shared Manager, and the OOM-recovered-pending
// bookkeeping the hang detector consumes.
type PSExtras struct {
	*Manager

	curClusterPS  []string
	nextClusterPS []string
}

// NewPSExtras returns a PSExtras wrapping a Manager scoped to node.TypePS.
func NewPSExtras(m *Manager) *PSExtras {
	return &PSExtras{Manager: m}
}

// GetCurClusterPS returns the PS addresses the currently running training
// step was started with.
func (p *PSExtras) GetCurClusterPS() []string {
	out := make([]string, len(p.curClusterPS))
	copy(out, p.curClusterPS)
	return out
}

// GetNextClusterPS returns the PS addresses a pending cluster-membership
// change will switch to.
func (p *PSExtras) GetNextClusterPS() []string {
	out := make([]string, len(p.nextClusterPS))
	copy(out, p.nextClusterPS)
	return out
}

// SetNextClusterPS records the PS addresses a membership change is moving
// toward; ReadyForNewPSCluster reports once every next-cluster PS node is
// running.
func (p *PSExtras) SetNextClusterPS(addrs []string) {
	p.nextClusterPS = append([]string(nil), addrs...)
}

// PromoteNextClusterPS commits the pending membership change once it is
// ready.
func (p *PSExtras) PromoteNextClusterPS() {
	p.curClusterPS = p.nextClusterPS
	p.nextClusterPS = nil
}

// ReadyForNewPSCluster reports whether every PS node referenced by the
// pending next-cluster membership is running.
func (p *PSExtras) ReadyForNewPSCluster() bool {
	if len(p.nextClusterPS) == 0 {
		return false
	}
	running := make(map[string]bool)
	for _, n := range p.GetRunningNodes() {
		running[n.ServiceAddr] = true
	}
	for _, addr := range p.nextClusterPS {
		if !running[addr] {
			return false
		}
	}
	return true
}

// HasPSFailure reports whether any PS node is in a failed, non-relaunched
// state.
func (p *PSExtras) HasPSFailure() bool {
	for _, n := range p.store.JobNodesByType(p.typ) {
		if n.Status == node.StatusFailed && n.ExitReason != node.ExitReasonRelaunched {
			return true
		}
	}
	return false
}

// GetPendingTimeoutOOMRecoveredNode returns the first PS node that is
// pending, OOM-recovered, and has been pending longer than timeout. These
// must trigger early stop because their training data is irrecoverable.
func (p *PSExtras) GetPendingTimeoutOOMRecoveredNode(timeout time.Duration) (node.Node, bool) {
	for _, n := range p.store.JobNodesByType(p.typ) {
		if n.Status == node.StatusPending && n.IsRecoveredOOM && time.Since(n.CreateTime) > timeout {
			return n, true
		}
	}
	return node.Node{}, false
}
