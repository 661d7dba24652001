// Package relaunch implements RelaunchPolicy: given a node and the
// transition the state machine computed for it, decide whether the node
// may be relaunched. The ordered-condition-check structure (evaluate in
// order, return on first match) follows the teacher's
// scaler.PolicyEngine.AllowScaleDown.
package relaunch

import (
	"go.uber.org/zap"

	"github.com/elasticjob/master/pkg/node"
	"github.com/elasticjob/master/pkg/optimizer"
	"github.com/elasticjob/master/pkg/statemachine"
)

// Decision is the outcome of a relaunch check.
type Decision struct {
	Allow bool
	// Reason is set only on disallow; it is reported via ACTION_NOT_RELAUNCH.
	Reason string
	// AdjustedResource is set only when the allow path raised the node's
	// memory after an OOM exit.
	AdjustedResource node.ResourceSpec
	// IsRecoveredOOM mirrors the allow-on-OOM branch's side effect.
	IsRecoveredOOM bool
}

// Policy evaluates RelaunchPolicy's decision table against job-wide
// configuration and a resource optimizer.
type Policy struct {
	logger    *zap.Logger
	config    node.JobConfig
	optimizer optimizer.ResourceOptimizer
}

// NewPolicy returns a Policy bound to the given job config and optimizer.
func NewPolicy(logger *zap.Logger, config node.JobConfig, opt optimizer.ResourceOptimizer) *Policy {
	return &Policy{logger: logger, config: config, optimizer: opt}
}

// Evaluate decides whether n may be relaunched given the transition the
// state machine computed for its incoming event. Conditions are checked in
// order; the first match wins.
func (p *Policy) Evaluate(n node.Node, transition statemachine.Transition, jobStage node.JobStage) Decision {
	if !transition.ShouldRelaunch || !n.Relaunchable {
		return Decision{Allow: false}
	}

	if jobStage == node.JobStageStopping {
		return p.deny("Disable relaunch when job is stopping")
	}

	switch {
	case n.ExitReason == node.ExitReasonFatalError && !p.config.RelaunchAlways:
		return p.deny("fatal error")

	case n.ExitReason == node.ExitReasonRelaunched:
		return p.deny("already relaunched")

	case n.ExitReason == node.ExitReasonOOM:
		return p.evaluateOOM(n)

	case n.ExitReason != node.ExitReasonKilled && n.RelaunchCount >= n.MaxRelaunchCount:
		return p.deny("budget exhausted")
	}

	return Decision{Allow: true}
}

func (p *Policy) evaluateOOM(n node.Node) Decision {
	if p.config.IsAllReduce() {
		return p.deny("all-reduce + OOM")
	}

	adjusted := p.optimizer.AdjustOOMResource(n)
	if p.config.MaxMemoryMB > 0 && adjusted.MemoryMB >= p.config.MaxMemoryMB {
		return p.deny("mem beyond limit")
	}
	if n.RelaunchCount >= n.MaxRelaunchCount {
		return p.deny("budget exhausted")
	}

	return Decision{Allow: true, AdjustedResource: adjusted, IsRecoveredOOM: true}
}

func (p *Policy) deny(reason string) Decision {
	if p.logger != nil {
		p.logger.Debug("relaunch denied", zap.String("reason", reason))
	}
	return Decision{Allow: false, Reason: reason}
}
