package relaunch

import (
	"testing"

	"github.com/elasticjob/master/pkg/node"
	"github.com/elasticjob/master/pkg/optimizer"
	"github.com/elasticjob/master/pkg/statemachine"
	"github.com/stretchr/testify/assert"
)

func allowTransition() statemachine.Transition {
	return statemachine.Transition{ShouldRelaunch: true}
}

func TestEvaluateShouldRelaunchFalse(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true}
	d := p.Evaluate(n, statemachine.Transition{ShouldRelaunch: false}, node.JobStageRunning)
	assert.False(t, d.Allow)
}

func TestEvaluateNotRelaunchable(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: false}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
}

func TestEvaluateJobStopping(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true}
	d := p.Evaluate(n, allowTransition(), node.JobStageStopping)
	assert.False(t, d.Allow)
	assert.Equal(t, "Disable relaunch when job is stopping", d.Reason)
}

func TestEvaluateFatalErrorDenied(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{RelaunchAlways: false}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonFatalError}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "fatal error", d.Reason)
}

func TestEvaluateFatalErrorAllowedWhenRelaunchAlways(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{RelaunchAlways: true}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonFatalError, RelaunchCount: 0, MaxRelaunchCount: 3}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.True(t, d.Allow)
}

func TestEvaluateAlreadyRelaunched(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonRelaunched}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "already relaunched", d.Reason)
}

func TestEvaluateOOMAllReduceDenied(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{Strategy: node.StrategyAllReduce}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonOOM}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "all-reduce + OOM", d.Reason)
}

func TestEvaluateOOMBeyondMemLimitDenied(t *testing.T) {
	opt := optimizer.NewDefaultOptimizer(nil)
	p := NewPolicy(nil, node.JobConfig{Strategy: node.StrategyParameterServer, MaxMemoryMB: 1400}, opt)
	n := node.Node{
		Relaunchable: true, ExitReason: node.ExitReasonOOM,
		Resource: node.ResourceSpec{MemoryMB: 1000},
	}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "mem beyond limit", d.Reason)
}

func TestEvaluateOOMBudgetExhaustedDenied(t *testing.T) {
	opt := optimizer.NewDefaultOptimizer(nil)
	p := NewPolicy(nil, node.JobConfig{Strategy: node.StrategyParameterServer, MaxMemoryMB: 100000}, opt)
	n := node.Node{
		Relaunchable: true, ExitReason: node.ExitReasonOOM,
		Resource: node.ResourceSpec{MemoryMB: 1000}, RelaunchCount: 3, MaxRelaunchCount: 3,
	}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "budget exhausted", d.Reason)
}

func TestEvaluateOOMAllowedBumpsMemory(t *testing.T) {
	opt := optimizer.NewDefaultOptimizer(nil)
	p := NewPolicy(nil, node.JobConfig{Strategy: node.StrategyParameterServer, MaxMemoryMB: 100000}, opt)
	n := node.Node{
		Relaunchable: true, ExitReason: node.ExitReasonOOM,
		Resource: node.ResourceSpec{MemoryMB: 1000}, RelaunchCount: 0, MaxRelaunchCount: 3,
	}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.True(t, d.Allow)
	assert.True(t, d.IsRecoveredOOM)
	assert.Equal(t, int64(1500), d.AdjustedResource.MemoryMB)
}

func TestEvaluateOtherExitBudgetExhausted(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonNoHeartbeat, RelaunchCount: 5, MaxRelaunchCount: 5}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.False(t, d.Allow)
	assert.Equal(t, "budget exhausted", d.Reason)
}

func TestEvaluateKilledIgnoresBudget(t *testing.T) {
	p := NewPolicy(nil, node.JobConfig{}, optimizer.NewDefaultOptimizer(nil))
	n := node.Node{Relaunchable: true, ExitReason: node.ExitReasonKilled, RelaunchCount: 5, MaxRelaunchCount: 5}
	d := p.Evaluate(n, allowTransition(), node.JobStageRunning)
	assert.True(t, d.Allow)
}
