package nodegroup

import (
	"testing"
	"time"

	"github.com/elasticjob/master/pkg/jobcontext"
	"github.com/elasticjob/master/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleUpAssignsSequentialIDs(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypeWorker)

	plan := m.ScaleUp(3, node.ResourceSpec{MemoryMB: 1024})
	require.Len(t, plan.LaunchNodes, 3)
	assert.Equal(t, int32(0), plan.LaunchNodes[0].ID)
	assert.Equal(t, int32(2), plan.LaunchNodes[2].ID)

	more := m.ScaleUp(1, node.ResourceSpec{})
	assert.Equal(t, int32(3), more.LaunchNodes[0].ID)
}

func TestScaleDownMarksYoungestReleased(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypeWorker)
	m.ScaleUp(3, node.ResourceSpec{})

	plan := m.ScaleDown(1)
	require.Len(t, plan.RemoveNodes, 1)
	assert.Equal(t, int32(2), plan.RemoveNodes[0].ID)

	n, ok := store.JobNode(node.Key{Type: node.TypeWorker, ID: 2})
	require.True(t, ok)
	assert.True(t, n.IsReleased)
}

func TestRelaunchNodeAllocatesNextID(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypeWorker)
	old := node.Node{Type: node.TypeWorker, ID: 3, RelaunchCount: 0, MaxRelaunchCount: 3, Status: node.StatusFailed}
	store.UpdateJobNode(old)

	plan := m.RelaunchNode(old, true)
	require.Len(t, plan.LaunchNodes, 1)
	assert.Equal(t, int32(4), plan.LaunchNodes[0].ID)
	assert.Equal(t, int32(1), plan.LaunchNodes[0].RelaunchCount)
	require.Len(t, plan.RemoveNodes, 1)
}

func TestAllNodesExited(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypeWorker)
	assert.False(t, m.AllNodesExited(), "empty group is not 'all exited'")

	store.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0, Status: node.StatusSucceeded})
	store.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 1, Status: node.StatusFailed, ExitReason: node.ExitReasonFatalError})
	assert.True(t, m.AllNodesExited())
}

func TestIsAllInitialWorkersNodeCheckFailed(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypeWorker)

	store.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNodeCheckFailed}})
	store.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 1, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNodeCheckFailed}})
	store.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 5, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNone}})

	assert.True(t, m.IsAllInitialWorkersNodeCheckFailed(2))
	assert.False(t, m.IsAllWorkersNodeCheckFailed())
}

func TestPSExtrasReadyForNewCluster(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypePS)
	ps := NewPSExtras(m)

	store.UpdateJobNode(node.Node{Type: node.TypePS, ID: 0, Status: node.StatusRunning, ServiceAddr: "ps-0:2222"})
	ps.SetNextClusterPS([]string{"ps-0:2222"})
	assert.True(t, ps.ReadyForNewPSCluster())

	ps.SetNextClusterPS([]string{"ps-0:2222", "ps-1:2222"})
	assert.False(t, ps.ReadyForNewPSCluster())
}

func TestPSExtrasGetPendingTimeoutOOMRecoveredNode(t *testing.T) {
	store := jobcontext.New()
	m := NewManager(store, node.TypePS)
	ps := NewPSExtras(m)

	store.UpdateJobNode(node.Node{
		Type: node.TypePS, ID: 0, Status: node.StatusPending, IsRecoveredOOM: true,
		CreateTime: time.Now().Add(-time.Hour),
	})

	n, ok := ps.GetPendingTimeoutOOMRecoveredNode(time.Minute)
	require.True(t, ok)
	assert.Equal(t, int32(0), n.ID)
}
