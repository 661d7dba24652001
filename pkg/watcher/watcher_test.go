package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elasticjob/master/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
)

func podWithPhase(phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{Status: corev1.PodStatus{Phase: phase}}
}

func TestFakeWatcherList(t *testing.T) {
	fw := NewFakeWatcher()
	fw.SetSnapshot([]node.Node{{Type: node.TypeWorker, ID: 0}})

	nodes, err := fw.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestFakeWatcherListErr(t *testing.T) {
	fw := NewFakeWatcher()
	fw.SetListErr(errors.New("boom"))

	_, err := fw.List(context.Background())
	assert.Error(t, err)
}

func TestFakeWatcherPushDeliversEvents(t *testing.T) {
	fw := NewFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := fw.Watch(ctx)
	require.NoError(t, err)

	fw.Push(node.Event{EventType: node.EventAdded, Node: node.Node{Type: node.TypeWorker, ID: 1}})

	select {
	case evt := <-ch:
		assert.Equal(t, node.EventAdded, evt.EventType)
		assert.Equal(t, int32(1), evt.Node.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFakeWatcherClosesOnCancel(t *testing.T) {
	fw := NewFakeWatcher()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := fw.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestPodPhaseToStatus(t *testing.T) {
	assert.Equal(t, node.StatusRunning, podPhaseToStatus(podWithPhase(corev1.PodRunning)))
	assert.Equal(t, node.StatusSucceeded, podPhaseToStatus(podWithPhase(corev1.PodSucceeded)))
	assert.Equal(t, node.StatusFailed, podPhaseToStatus(podWithPhase(corev1.PodFailed)))
	assert.Equal(t, node.StatusPending, podPhaseToStatus(podWithPhase(corev1.PodPending)))
}
