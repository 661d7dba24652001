package autoscaler

import "context"

// PlanWatcher produces a push stream of externally-supplied scale plans,
// mirroring pkg/watcher.NodeWatcher's shape but for the plan CRD rather
// than node objects. Kubernetes client specifics for how the stream is
// actually produced are out of scope per spec.md §1; only this interface
// is consumed.
type PlanWatcher interface {
	// Watch returns a channel of plans. The channel is closed when the
	// watch ends (context cancellation or an unrecoverable error).
	Watch(ctx context.Context) (<-chan Plan, error)
}
