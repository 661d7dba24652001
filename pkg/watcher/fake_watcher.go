package watcher

import (
	"context"
	"sync"

	"github.com/elasticjob/master/pkg/node"
)

// FakeWatcher is an in-memory NodeWatcher for tests. Calls to Push are
// delivered to every channel handed out by Watch that is still open.
type FakeWatcher struct {
	mu        sync.Mutex
	snapshot  []node.Node
	listErr   error
	consumers []chan node.Event
}

// NewFakeWatcher returns an empty FakeWatcher.
func NewFakeWatcher() *FakeWatcher {
	return &FakeWatcher{}
}

// SetSnapshot replaces the value returned by the next List call.
func (f *FakeWatcher) SetSnapshot(nodes []node.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = nodes
}

// SetListErr makes the next List calls fail with err.
func (f *FakeWatcher) SetListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// List returns the configured snapshot.
func (f *FakeWatcher) List(ctx context.Context) ([]node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]node.Node, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

// Watch returns a channel that receives every subsequent Push. The channel
// closes when ctx is cancelled.
func (f *FakeWatcher) Watch(ctx context.Context) (<-chan node.Event, error) {
	ch := make(chan node.Event, 16)

	f.mu.Lock()
	f.consumers = append(f.consumers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.consumers {
			if c == ch {
				f.consumers = append(f.consumers[:i], f.consumers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Push delivers evt to every channel currently open from a prior Watch call.
func (f *FakeWatcher) Push(evt node.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.consumers {
		c <- evt
	}
}
