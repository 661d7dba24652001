package hangdetect

import (
	"testing"
	"time"

	"github.com/elasticjob/master/pkg/node"
	"github.com/stretchr/testify/assert"
)

func workerAt(id int32, status node.Status, ago time.Duration) node.Node {
	return node.Node{Type: node.TypeWorker, ID: id, Status: status, CreateTime: time.Now().Add(-ago)}
}

func TestPendingHangRunningBelowMinimum(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 2})
	workers := []node.Node{
		workerAt(0, node.StatusPending, 20*time.Minute),
		workerAt(1, node.StatusRunning, 20*time.Minute),
		workerAt(2, node.StatusRunning, 20*time.Minute),
		workerAt(3, node.StatusRunning, 20*time.Minute),
	}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 4, TimeoutMinutes: 10})
	assert.True(t, r.Stop)
	assert.Equal(t, node.JobExitReasonPendingTimeout, r.ExitReason)
}

func TestPendingHangRunningMeetsMinimum(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 2})
	workers := []node.Node{
		workerAt(0, node.StatusPending, 20*time.Minute),
		workerAt(1, node.StatusRunning, 20*time.Minute),
		workerAt(2, node.StatusRunning, 20*time.Minute),
		workerAt(3, node.StatusRunning, 20*time.Minute),
	}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 4, TimeoutMinutes: 10})
	assert.True(t, r.Stop)

	workers = append(workers, workerAt(4, node.StatusRunning, 20*time.Minute))
	r = d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 4, TimeoutMinutes: 10})
	assert.False(t, r.Stop)
}

func TestPendingHangShortDurationNeverBlocks(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 2})
	workers := []node.Node{workerAt(0, node.StatusPending, time.Minute)}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 0, TimeoutMinutes: 10})
	assert.False(t, r.Stop)
}

func TestPendingHangZeroMinDefaultsToOne(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 2})
	workers := []node.Node{workerAt(0, node.StatusPending, 20*time.Minute)}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 0, TimeoutMinutes: 10})
	assert.True(t, r.Stop)
}

func TestPendingHangDisabledWhenTimeoutZero(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 2})
	workers := []node.Node{workerAt(0, node.StatusPending, 20*time.Minute)}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 0, TimeoutMinutes: 0})
	assert.False(t, r.Stop)
}

func TestPendingHangStrategyOneAllReduceNeverBlocks(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 1, Strategy: node.StrategyAllReduce})
	workers := []node.Node{
		workerAt(0, node.StatusPending, 20*time.Minute),
		workerAt(1, node.StatusRunning, 20*time.Minute),
		workerAt(2, node.StatusRunning, 20*time.Minute),
		workerAt(3, node.StatusRunning, 20*time.Minute),
	}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 2, TimeoutMinutes: 1})
	assert.False(t, r.Stop)
}

func TestPendingHangStrategyOnePSBlocksOnExistence(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{PendingFailStrategy: 1, Strategy: node.StrategyParameterServer})
	workers := []node.Node{
		workerAt(0, node.StatusPending, 20*time.Minute),
		workerAt(1, node.StatusRunning, 20*time.Minute),
		workerAt(2, node.StatusRunning, 20*time.Minute),
		workerAt(3, node.StatusRunning, 20*time.Minute),
	}
	r := d.findPendingNodeCausedHang(workers, RequiredInfo{Min: 2, TimeoutMinutes: 1})
	assert.True(t, r.Stop)
}

func TestAllInitialWorkersNodeCheckFailed(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{Strategy: node.StrategyAllReduce})
	workers := []node.Node{
		{Type: node.TypeWorker, ID: 0, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNodeCheckFailed}},
		{Type: node.TypeWorker, ID: 1, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNodeCheckFailed}},
	}
	r := d.allInitialWorkersNodeCheckFailed(workers)
	assert.True(t, r.Stop)
	assert.Equal(t, node.JobExitReasonNodeCheckFailed, r.ExitReason)
}

func TestAllInitialWorkersNodeCheckFailedIgnoresRelaunched(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{Strategy: node.StrategyAllReduce})
	workers := []node.Node{
		{Type: node.TypeWorker, ID: 0, RelaunchCount: 1, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNone}},
		{Type: node.TypeWorker, ID: 1, ReportedStatus: node.ReportedStatusRecord{Status: node.ReportedNodeCheckFailed}},
	}
	r := d.allInitialWorkersNodeCheckFailed(workers)
	assert.True(t, r.Stop, "relaunched nodes are excluded from the initial-generation check")
}

func TestShouldEarlyStopNoConditions(t *testing.T) {
	d := NewDetector(nil, node.JobConfig{})
	workers := []node.Node{workerAt(0, node.StatusRunning, time.Hour)}
	r := d.ShouldEarlyStop(workers, nil, RequiredInfo{})
	assert.False(t, r.Stop)
}
