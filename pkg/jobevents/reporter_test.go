package jobevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeReporterRecordsCalls(t *testing.T) {
	r := NewFakeReporter()
	r.Report(TypeNormal, "worker-0", ActionNotRelaunch, "budget exhausted")

	events := r.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActionNotRelaunch, events[0].Action)
	assert.Equal(t, "worker-0", events[0].Instance)
	assert.Equal(t, "budget exhausted", events[0].Message)
}

func TestFakeReporterAccumulatesMultipleCalls(t *testing.T) {
	r := NewFakeReporter()
	r.Report(TypeNormal, "worker-0", ActionRelaunch, "relaunched")
	r.Report(TypeWarning, "", ActionEarlyStop, "no heartbeat")

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, ActionRelaunch, events[0].Action)
	assert.Equal(t, ActionEarlyStop, events[1].Action)
}
