// Package diagnosis defines the tagged variant returned by agent-facing
// diagnosis collaborators, dispatched exhaustively by the job manager
// instead of type-switching on an opaque interface.
package diagnosis

import "github.com/elasticjob/master/pkg/node"

// Kind tags which Action variant is carried.
type Kind int

const (
	KindNone Kind = iota
	KindEvent
	KindNode
)

// Action is a closed sum type: exactly one of NoAction, EventAction, or
// NodeAction. Construct via the New* helpers; dispatch via Kind().
type Action struct {
	kind Kind

	// EventAction fields.
	EventType string
	Message   string

	// NodeAction fields: target node to fail and relaunch.
	Target     node.Key
	NodeAction NodeActionType
}

// NodeActionType enumerates what a NodeAction instructs the manager to do.
type NodeActionType string

const (
	NodeActionRelaunch NodeActionType = "relaunch"
	NodeActionFail     NodeActionType = "fail"
)

// Kind reports which variant this Action carries.
func (a Action) Kind() Kind { return a.kind }

// NoAction returns the no-op variant.
func NoAction() Action {
	return Action{kind: KindNone}
}

// NewEventAction returns an EventAction variant carrying a reportable event.
func NewEventAction(eventType, message string) Action {
	return Action{kind: KindEvent, EventType: eventType, Message: message}
}

// NewNodeAction returns a NodeAction variant targeting a specific node.
func NewNodeAction(target node.Key, action NodeActionType) Action {
	return Action{kind: KindNode, Target: target, NodeAction: action}
}
