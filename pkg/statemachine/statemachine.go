// Package statemachine implements StateFlow: the pure function mapping
// (old status, event type, new status) to a transition, or to none.
package statemachine

import "github.com/elasticjob/master/pkg/node"

// Transition describes an allowed status change and whether it makes the
// node eligible for a relaunch decision.
type Transition struct {
	FromStatus    node.Status
	ToStatus      node.Status
	ShouldRelaunch bool
}

type key struct {
	old       node.Status
	eventType node.EventType
	new       node.Status
}

var flow = map[key]Transition{}

func register(old node.Status, eventType node.EventType, new node.Status, shouldRelaunch bool) {
	flow[key{old, eventType, new}] = Transition{FromStatus: old, ToStatus: new, ShouldRelaunch: shouldRelaunch}
}

func init() {
	// initial -> pending -> running -> {succeeded|failed|deleted}
	register(node.StatusInitial, node.EventAdded, node.StatusPending, false)
	register(node.StatusInitial, node.EventModified, node.StatusPending, false)
	// A still-initial node superseded by a newer id at the same
	// rank_index is retired, not relaunched: the newer id is already the
	// node occupying that rank.
	register(node.StatusInitial, node.EventDeleted, node.StatusDeleted, false)
	register(node.StatusPending, node.EventModified, node.StatusRunning, false)
	register(node.StatusPending, node.EventDeleted, node.StatusDeleted, true)

	register(node.StatusRunning, node.EventModified, node.StatusRunning, false)
	register(node.StatusRunning, node.EventModified, node.StatusSucceeded, false)
	register(node.StatusRunning, node.EventModified, node.StatusFailed, true)
	register(node.StatusRunning, node.EventModified, node.StatusFinished, false)
	// running -> deleted is an abnormal loss: relaunch-eligible.
	register(node.StatusRunning, node.EventDeleted, node.StatusDeleted, true)

	// Any transition out of succeeded is rejected: no entries registered
	// with FromStatus == StatusSucceeded, so Lookup always returns none.
}

// Lookup returns the transition for (oldStatus, eventType, newStatus), or
// ok=false if none is defined (including any transition out of succeeded,
// since no such entry is ever registered).
func Lookup(oldStatus node.Status, eventType node.EventType, newStatus node.Status) (Transition, bool) {
	if oldStatus == node.StatusSucceeded {
		return Transition{}, false
	}
	t, ok := flow[key{oldStatus, eventType, newStatus}]
	return t, ok
}

// ForDeletedEvent resolves the transition for a DELETED event, applying
// the exit-reason override: DELETED events whose exit_reason is
// no_heartbeat or diag_fail force a transition to failed (not deleted),
// and that transition is always relaunch-eligible.
func ForDeletedEvent(oldStatus node.Status, exitReason node.ExitReason) (Transition, bool) {
	if oldStatus == node.StatusSucceeded {
		return Transition{}, false
	}
	if exitReason == node.ExitReasonNoHeartbeat || exitReason == node.ExitReasonDiagFail {
		return Transition{FromStatus: oldStatus, ToStatus: node.StatusFailed, ShouldRelaunch: true}, true
	}
	return Lookup(oldStatus, node.EventDeleted, node.StatusDeleted)
}
