// Package hangdetect implements the hang / early-stop detector: four
// ordered stop conditions evaluated against a NodeStore snapshot. Grounded
// on spec.md §4.6 and the test behavior captured in
// test_worker_manager.py's find_pending_node_caused_training_hang /
// is_training_hang_by_insufficient_worker (the WorkerManager source itself
// was not retrieved, so the pending-hang rule below is reconstructed from
// that test's fixtures, documented per-branch; see DESIGN.md).
package hangdetect

import (
	"time"

	"go.uber.org/zap"

	"github.com/elasticjob/master/pkg/node"
)

// RequiredInfo is the (min, max, timeout) tuple an owner registers for a
// node type via UpdateNodeRequiredInfo; TimeoutMinutes of zero disables
// the pending-hang check for that type.
type RequiredInfo struct {
	Min            int32
	Max            int32
	TimeoutMinutes int32
}

// Result is the outcome of a hang/early-stop evaluation.
type Result struct {
	Stop       bool
	ExitReason node.JobExitReason
	Message    string
	// Node is the offending node, when Stop came from a per-node check.
	Node *node.Node
}

func noStop() Result { return Result{} }

// Detector evaluates the four ordered stop conditions against a snapshot
// of the job's nodes.
type Detector struct {
	logger *zap.Logger
	config node.JobConfig
}

// NewDetector returns a Detector bound to the given job config.
func NewDetector(logger *zap.Logger, config node.JobConfig) *Detector {
	return &Detector{logger: logger, config: config}
}

// ShouldEarlyStop evaluates all four conditions in order against workers
// and psNodes (PS extras only meaningful for parameter-server jobs).
// workerRequired is the RequiredInfo registered for the worker type.
func (d *Detector) ShouldEarlyStop(workers, psNodes []node.Node, workerRequired RequiredInfo) Result {
	if r := d.allInitialWorkersNodeCheckFailed(workers); r.Stop {
		return r
	}
	if r := d.psOOMPendingTimeout(psNodes); r.Stop {
		return r
	}
	if r := d.findPendingNodeCausedHang(workers, workerRequired); r.Stop {
		return r
	}
	if r := d.insufficientWorkers(workers, workerRequired); r.Stop {
		return r
	}
	return noStop()
}

// allInitialWorkersNodeCheckFailed implements condition 1: all-reduce only,
// every node still in its initial generation (relaunch_count == 0) has
// self-reported NODE_CHECK_FAILED.
func (d *Detector) allInitialWorkersNodeCheckFailed(workers []node.Node) Result {
	if !d.config.IsAllReduce() || len(workers) == 0 {
		return noStop()
	}

	var initial []node.Node
	for _, w := range workers {
		if w.RelaunchCount == 0 {
			initial = append(initial, w)
		}
	}
	if len(initial) == 0 {
		return noStop()
	}
	for _, w := range initial {
		if w.ReportedStatus.Status != node.ReportedNodeCheckFailed {
			return noStop()
		}
	}
	return Result{Stop: true, ExitReason: node.JobExitReasonNodeCheckFailed, Message: "all initial workers failed node check"}
}

// psOOMPendingTimeout implements condition 2: any OOM-recovered PS node
// still pending more than 30 minutes after its CreateTime.
func (d *Detector) psOOMPendingTimeout(psNodes []node.Node) Result {
	for i := range psNodes {
		ps := psNodes[i]
		if ps.Status != node.StatusPending || !ps.IsRecoveredOOM {
			continue
		}
		if time.Since(ps.CreateTime) > pendingTimeout(30) {
			n := ps
			return Result{
				Stop: true, ExitReason: node.JobExitReasonPendingTimeout,
				Message: "OOM-recovered PS node pending timeout", Node: &n,
			}
		}
	}
	return noStop()
}

// findPendingNodeCausedHang implements condition 3. A node counts as
// "pending" for this check when its Status is Pending or Initial. The rule
// reconstructed from the test fixtures:
//   - TimeoutMinutes <= 0 disables the check entirely.
//   - A pending/initial node must have been in that state longer than
//     TimeoutMinutes.
//   - Under PendingFailStrategy 2 (or any value other than 1), that alone is not enough: the
//     count of Running nodes must also be strictly less than
//     max(Min, 1) — i.e. the group hasn't yet reached its minimum without
//     the stuck node.
//   - Under PendingFailStrategy 1, all-reduce jobs never block on this
//     (a pending straggler among an otherwise-healthy group is tolerated);
//     PS jobs block on the mere existence of a timed-out pending node,
//     regardless of how many other nodes are already running.
func (d *Detector) findPendingNodeCausedHang(workers []node.Node, required RequiredInfo) Result {
	if required.TimeoutMinutes <= 0 {
		return noStop()
	}
	timeout := time.Duration(required.TimeoutMinutes) * time.Minute

	var stuck *node.Node
	running := int32(0)
	for i := range workers {
		w := workers[i]
		switch w.Status {
		case node.StatusRunning:
			running++
		case node.StatusPending, node.StatusInitial:
			if stuck == nil && time.Since(w.CreateTime) > timeout {
				n := w
				stuck = &n
			}
		}
	}
	if stuck == nil {
		return noStop()
	}

	if d.config.PendingFailStrategy == 1 {
		if d.config.IsAllReduce() {
			return noStop()
		}
		return Result{Stop: true, ExitReason: node.JobExitReasonPendingTimeout, Message: "pending node exceeded timeout", Node: stuck}
	}

	minRequired := required.Min
	if minRequired < 1 {
		minRequired = 1
	}
	if running < minRequired {
		return Result{Stop: true, ExitReason: node.JobExitReasonPendingTimeout, Message: "pending node exceeded timeout with insufficient running nodes", Node: stuck}
	}
	return noStop()
}

// insufficientWorkers implements condition 4: for all-reduce jobs, if the
// running+succeeded count has been below the required minimum for the
// configured window, the job cannot make progress.
func (d *Detector) insufficientWorkers(workers []node.Node, required RequiredInfo) Result {
	if !d.config.IsAllReduce() || d.config.InsufficientWorkerTimeout <= 0 {
		return noStop()
	}

	sufficient := int32(0)
	var oldestDeficitSince time.Time
	for i := range workers {
		w := workers[i]
		if w.IsReleased {
			continue
		}
		if w.Status == node.StatusRunning || w.Status == node.StatusSucceeded {
			sufficient++
		}
	}
	if sufficient >= required.Min {
		return noStop()
	}

	for i := range workers {
		w := workers[i]
		if w.IsReleased || w.Status == node.StatusRunning || w.Status == node.StatusSucceeded {
			continue
		}
		if oldestDeficitSince.IsZero() || w.CreateTime.Before(oldestDeficitSince) {
			oldestDeficitSince = w.CreateTime
		}
	}
	if oldestDeficitSince.IsZero() || time.Since(oldestDeficitSince) < d.config.InsufficientWorkerTimeout {
		return noStop()
	}

	return Result{Stop: true, ExitReason: node.JobExitReasonUncompletedTimeout, Message: "insufficient running workers for the configured window"}
}

func pendingTimeout(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}
