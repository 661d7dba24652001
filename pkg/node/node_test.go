package node

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusInitial, false},
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusDeleted, true},
		{StatusFinished, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.IsTerminal(), tt.status)
	}
}

func TestExitReasonIsPositive(t *testing.T) {
	assert.True(t, ExitReasonDiagFail.IsPositive())
	assert.True(t, ExitReasonNoHeartbeat.IsPositive())
	assert.False(t, ExitReasonKilled.IsPositive())
	assert.False(t, ExitReasonOOM.IsPositive())
}

func TestScalePlanEmpty(t *testing.T) {
	p := NewScalePlan()
	assert.True(t, p.Empty())

	p.LaunchNodes = append(p.LaunchNodes, Node{Type: TypeWorker, ID: 1})
	assert.False(t, p.Empty())
}

func TestScalePlanJSONRoundTrip(t *testing.T) {
	p := ScalePlan{
		NodeGroupResources: map[Type]GroupResource{
			TypeWorker: {Count: 3, Resource: ResourceSpec{CPU: 2, MemoryMB: 4096}},
		},
		LaunchNodes: []Node{{Type: TypeWorker, ID: 3, RankIndex: 3}},
		PSAddrs:     []string{"ps-0.svc:2222"},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var roundTripped ScalePlan
	require.NoError(t, json.Unmarshal(data, &roundTripped))

	assert.Equal(t, p.PSAddrs, roundTripped.PSAddrs)
	assert.Equal(t, p.LaunchNodes, roundTripped.LaunchNodes)
	assert.Equal(t, p.NodeGroupResources[TypeWorker].Count, roundTripped.NodeGroupResources[TypeWorker].Count)
}

func TestScalePlanEmptyJSONRoundTrip(t *testing.T) {
	p := NewScalePlan()
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var roundTripped ScalePlan
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.True(t, roundTripped.Empty())
}

func TestParalConfigOmittedWhenZero(t *testing.T) {
	n := Node{Type: TypeWorker, ID: 0}
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "paral_config")
}

func TestNodeCloneIsValueCopy(t *testing.T) {
	n := Node{Type: TypeWorker, ID: 1, Status: StatusRunning}
	clone := n.Clone()
	clone.Status = StatusFailed
	assert.Equal(t, StatusRunning, n.Status)
	assert.Equal(t, StatusFailed, clone.Status)
}

func TestNodeHasExited(t *testing.T) {
	assert.True(t, Node{Status: StatusSucceeded}.HasExited())
	assert.True(t, Node{Status: StatusFailed, ExitReason: ExitReasonOOM}.HasExited())
	assert.False(t, Node{Status: StatusFailed, ExitReason: ExitReasonKilled}.HasExited())
	assert.True(t, Node{ReportedStatus: ReportedStatusRecord{Status: ReportedSucceededExited}}.HasExited())
	assert.False(t, Node{Status: StatusRunning}.HasExited())
}

func TestUniqueLabels(t *testing.T) {
	n := Node{Type: TypeWorker, ID: 2, RankIndex: 2, RelaunchCount: 1}
	labels := UniqueLabels("my-job", n)
	assert.Equal(t, "my-job", labels[AppLabelKey])
	assert.Equal(t, "worker", labels[ReplicaTypeLabelKey])
	assert.Equal(t, "2", labels[ReplicaIndexLabelKey])
	assert.Equal(t, "2", labels[RankIndexLabelKey])
}

func TestServiceName(t *testing.T) {
	n := Node{Type: TypePS, ID: 0}
	assert.Equal(t, "my-job-edljob-ps-0.default.svc:2222", ServiceName("my-job", "default", n, 2222))
}
