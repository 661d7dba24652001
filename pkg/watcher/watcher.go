// Package watcher defines NodeWatcher, the external collaborator that
// produces list() snapshots and a push stream of events from the
// cluster. EventPipeline is the only consumer.
package watcher

import (
	"context"

	"github.com/elasticjob/master/pkg/node"
)

// NodeWatcher produces list snapshots and a watch stream of NodeEvents
// from the cluster. Out of scope per spec.md §1 ("Kubernetes client
// specifics"): only this interface is consumed by the pipeline.
type NodeWatcher interface {
	// List returns the current snapshot of observed nodes.
	List(ctx context.Context) ([]node.Node, error)
	// Watch returns a channel of events, or an error if the watch cannot
	// be opened. The returned channel is closed when the watch ends
	// (context cancellation or the underlying stream closing).
	Watch(ctx context.Context) (<-chan node.Event, error)
}
