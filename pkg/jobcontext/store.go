// Package jobcontext implements NodeStore: the thread-safe, in-memory
// authoritative map of job nodes keyed by (type, id). A single mutex
// serializes every read-modify-write and is held by EventPipeline across
// an entire transition's evaluation (see its package doc for the exact
// boundary).
package jobcontext

import (
	"sync"

	"github.com/elasticjob/master/pkg/diagnosis"
	"github.com/elasticjob/master/pkg/node"
)

// Store is NodeStore. The zero value is not usable; construct via New.
//
// Mu is exported so collaborators that must hold the lock across more
// than one Store call (the event pipeline's transition + callback
// evaluation) can do so explicitly, matching the "lock held for the
// duration of a transition" rule in the concurrency model.
type Store struct {
	Mu sync.Mutex

	nodes    map[node.Key]node.Node
	jobStage node.JobStage
	actions  map[node.Key][]diagnosis.Action
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes:    make(map[node.Key]node.Node),
		jobStage: node.JobStageRunning,
		actions:  make(map[node.Key][]diagnosis.Action),
	}
}

// UpdateJobNode inserts or overwrites a node, taking Mu itself. Callers
// already holding Mu must use UpdateJobNodeLocked instead.
func (s *Store) UpdateJobNode(n node.Node) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.updateJobNodeLocked(n)
}

func (s *Store) updateJobNodeLocked(n node.Node) {
	s.nodes[n.KeyOf()] = n
}

// UpdateJobNodeLocked is UpdateJobNode for a caller already holding Mu,
// e.g. the event pipeline across an entire transition's evaluation.
func (s *Store) UpdateJobNodeLocked(n node.Node) {
	s.updateJobNodeLocked(n)
}

// JobNodeLocked is JobNode for a caller already holding Mu.
func (s *Store) JobNodeLocked(key node.Key) (node.Node, bool) {
	return s.jobNodeLocked(key)
}

// JobNode returns a value copy of the node at key, if present.
func (s *Store) JobNode(key node.Key) (node.Node, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.jobNodeLocked(key)
}

func (s *Store) jobNodeLocked(key node.Key) (node.Node, bool) {
	n, ok := s.nodes[key]
	return n, ok
}

// JobNodes returns a value-copy snapshot of every node, keyed by Key.
func (s *Store) JobNodes() map[node.Key]node.Node {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make(map[node.Key]node.Node, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out
}

// JobNodesByType returns a value-copy snapshot of the nodes of one type.
func (s *Store) JobNodesByType(t node.Type) []node.Node {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.jobNodesByTypeLocked(t)
}

func (s *Store) jobNodesByTypeLocked(t node.Type) []node.Node {
	var out []node.Node
	for k, v := range s.nodes {
		if k.Type == t {
			out = append(out, v)
		}
	}
	return out
}

// ClearJobNodes truncates the store on job shutdown.
func (s *Store) ClearJobNodes() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.nodes = make(map[node.Key]node.Node)
}

// ClearExitedNodes removes the store's bookkeeping entries for nodes that
// have already reached a terminal state. The key/value for those nodes
// stays reachable via JobNodesByType for id-allocation purposes until
// ClearJobNodes truncates the whole store; this only
// clears their queued diagnosis actions.
func (s *Store) ClearExitedNodes() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	for k, n := range s.nodes {
		if n.Status.IsTerminal() {
			delete(s.actions, k)
		}
	}
}

// ClearAllNodes marks every node released and non-critical in place,
// without removing store entries (ids must stay stable for the job's
// lifetime per the NodeStore invariants).
func (s *Store) ClearAllNodes() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	for k, n := range s.nodes {
		n.IsReleased = true
		n.Critical = false
		s.nodes[k] = n
	}
}

// UpdateJobStage sets the job's lifecycle stage.
func (s *Store) UpdateJobStage(stage node.JobStage) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.jobStage = stage
}

// GetJobStage returns the job's lifecycle stage.
func (s *Store) GetJobStage() node.JobStage {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.jobStage
}

// GetJobStageLocked is GetJobStage for a caller already holding Mu.
func (s *Store) GetJobStageLocked() node.JobStage {
	return s.jobStage
}

// QueueAction enqueues a diagnosis action for delivery to the instance
// identified by key on its next poll via NextAction.
func (s *Store) QueueAction(key node.Key, action diagnosis.Action) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.queueActionLocked(key, action)
}

// QueueActionLocked is QueueAction for a caller already holding Mu.
func (s *Store) QueueActionLocked(key node.Key, action diagnosis.Action) {
	s.queueActionLocked(key, action)
}

func (s *Store) queueActionLocked(key node.Key, action diagnosis.Action) {
	s.actions[key] = append(s.actions[key], action)
}

// NextAction pops and returns the next queued diagnosis action for an
// instance, or NoAction if none is queued.
func (s *Store) NextAction(key node.Key) diagnosis.Action {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	queue := s.actions[key]
	if len(queue) == 0 {
		return diagnosis.NoAction()
	}
	next := queue[0]
	s.actions[key] = queue[1:]
	return next
}

// MaxID returns the highest existing id for a node type, or -1 if none
// exist; the scaler uses the gap to compute the next id.
func (s *Store) MaxID(t node.Type) int32 {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.maxIDLocked(t)
}

func (s *Store) maxIDLocked(t node.Type) int32 {
	max := int32(-1)
	for k := range s.nodes {
		if k.Type == t && k.ID > max {
			max = k.ID
		}
	}
	return max
}
