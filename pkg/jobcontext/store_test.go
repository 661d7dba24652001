package jobcontext

import (
	"testing"

	"github.com/elasticjob/master/pkg/diagnosis"
	"github.com/elasticjob/master/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndGetJobNode(t *testing.T) {
	s := New()
	n := node.Node{Type: node.TypeWorker, ID: 0, Status: node.StatusInitial}
	s.UpdateJobNode(n)

	got, ok := s.JobNode(node.Key{Type: node.TypeWorker, ID: 0})
	require.True(t, ok)
	assert.Equal(t, node.StatusInitial, got.Status)
}

func TestJobNodesByType(t *testing.T) {
	s := New()
	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0})
	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 1})
	s.UpdateJobNode(node.Node{Type: node.TypePS, ID: 0})

	workers := s.JobNodesByType(node.TypeWorker)
	assert.Len(t, workers, 2)
}

func TestMaxID(t *testing.T) {
	s := New()
	assert.Equal(t, int32(-1), s.MaxID(node.TypeWorker))

	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0})
	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 3})
	assert.Equal(t, int32(3), s.MaxID(node.TypeWorker))
}

func TestClearAllNodesKeepsKeys(t *testing.T) {
	s := New()
	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0, Critical: true})
	s.ClearAllNodes()

	got, ok := s.JobNode(node.Key{Type: node.TypeWorker, ID: 0})
	require.True(t, ok)
	assert.True(t, got.IsReleased)
	assert.False(t, got.Critical)
}

func TestJobStage(t *testing.T) {
	s := New()
	assert.Equal(t, node.JobStageRunning, s.GetJobStage())
	s.UpdateJobStage(node.JobStageStopping)
	assert.Equal(t, node.JobStageStopping, s.GetJobStage())
}

func TestQueueAndNextAction(t *testing.T) {
	s := New()
	key := node.Key{Type: node.TypeWorker, ID: 0}

	assert.Equal(t, diagnosis.KindNone, s.NextAction(key).Kind())

	s.QueueAction(key, diagnosis.NewEventAction("ACTION_EARLY_STOP", "hang"))
	action := s.NextAction(key)
	assert.Equal(t, diagnosis.KindEvent, action.Kind())

	assert.Equal(t, diagnosis.KindNone, s.NextAction(key).Kind())
}

func TestQueueActionLockedRequiresHeldLock(t *testing.T) {
	s := New()
	key := node.Key{Type: node.TypeWorker, ID: 0}

	s.Mu.Lock()
	s.QueueActionLocked(key, diagnosis.NewEventAction("ACTION_NOT_RELAUNCH", "budget exhausted"))
	s.Mu.Unlock()

	action := s.NextAction(key)
	assert.Equal(t, diagnosis.KindEvent, action.Kind())
}

func TestDeletionNeverRemovesKey(t *testing.T) {
	s := New()
	key := node.Key{Type: node.TypeWorker, ID: 0}
	s.UpdateJobNode(node.Node{Type: node.TypeWorker, ID: 0, Status: node.StatusDeleted, IsReleased: true})
	s.ClearExitedNodes()

	_, ok := s.JobNode(key)
	assert.True(t, ok, "deletion must only set status/is_released, never remove the key")
}
