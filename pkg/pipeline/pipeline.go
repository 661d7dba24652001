// Package pipeline implements EventPipeline: the node-monitor and
// heartbeat-monitor loops, event reconciliation against NodeStore, the
// deletion-filtering ghost-delete check, and the relaunch hookup. It is
// the one place statemachine.Lookup results turn into store mutations,
// grounded on dist_job_manager.py's _monitor_nodes / _process_event /
// _process_list_nodes / _get_dead_node_event.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/elasticjob/master/pkg/diagnosis"
	"github.com/elasticjob/master/pkg/jobcontext"
	"github.com/elasticjob/master/pkg/jobevents"
	"github.com/elasticjob/master/pkg/metrics"
	"github.com/elasticjob/master/pkg/node"
	"github.com/elasticjob/master/pkg/relaunch"
	"github.com/elasticjob/master/pkg/scheduler"
	"github.com/elasticjob/master/pkg/statemachine"
	"github.com/elasticjob/master/pkg/watcher"
)

// RelaunchFunc allocates a replacement node and returns the plan to apply
// it; the job manager binds one per node.Type to that type's
// nodegroup.Manager.RelaunchNode.
type RelaunchFunc func(old node.Node) node.ScalePlan

// Callbacks are the optional node-lifecycle hooks dist_job_manager.py
// calls _process_node_events for; any left nil are skipped.
type Callbacks struct {
	OnNodeStarted   func(n node.Node)
	OnNodeSucceeded func(n node.Node)
	OnNodeFailed    func(n node.Node)
	OnNodeDeleted   func(n node.Node)
}

// Config configures an EventPipeline.
type Config struct {
	JobName string

	// HeartbeatWindow is how long a running node may go without a
	// heartbeat before it is declared dead (spec.md S2: 600s default in
	// original_source).
	HeartbeatWindow time.Duration
	// PollInterval is the delay between node-monitor iterations that
	// completed without error.
	PollInterval time.Duration
	// ErrorBackoff is the delay after a node-monitor iteration fails.
	ErrorBackoff time.Duration
	// HeartbeatPollInterval is the delay between heartbeat-monitor sweeps.
	HeartbeatPollInterval time.Duration

	Breaker breakerConfig
}

func (c *Config) setDefaults() {
	if c.HeartbeatWindow <= 0 {
		c.HeartbeatWindow = 600 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
	if c.HeartbeatPollInterval <= 0 {
		c.HeartbeatPollInterval = 15 * time.Second
	}
}

// EventPipeline is the event-sourcing loop binding NodeWatcher to
// NodeStore, with the relaunch decision wired in at the point spec.md §5
// releases the lock before calling the scheduler.
type EventPipeline struct {
	cfg Config

	store     *jobcontext.Store
	watcher   watcher.NodeWatcher
	scheduler scheduler.Scheduler
	policy    *relaunch.Policy
	relaunch  map[node.Type]RelaunchFunc
	callbacks Callbacks
	logger    *zap.Logger
	breaker   *circuitBreaker

	// Reporter surfaces relaunch/not-relaunch decisions as user-visible
	// job events (spec.md §4.4). Nil is valid and simply skips reporting.
	Reporter jobevents.Reporter

	// OnExit is invoked for a master-synthesized exit event, wired by the
	// job manager to CloseJob. Must not call back into processEvent.
	OnExit func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an EventPipeline. relaunchFuncs may be nil or partial; any
// node.Type without an entry is never relaunched regardless of policy.
func New(
	store *jobcontext.Store,
	nodeWatcher watcher.NodeWatcher,
	sched scheduler.Scheduler,
	policy *relaunch.Policy,
	relaunchFuncs map[node.Type]RelaunchFunc,
	callbacks Callbacks,
	cfg Config,
	logger *zap.Logger,
) *EventPipeline {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if relaunchFuncs == nil {
		relaunchFuncs = map[node.Type]RelaunchFunc{}
	}
	return &EventPipeline{
		cfg:       cfg,
		store:     store,
		watcher:   nodeWatcher,
		scheduler: sched,
		policy:    policy,
		relaunch:  relaunchFuncs,
		callbacks: callbacks,
		logger:    logger,
		breaker:   newCircuitBreaker(cfg.Breaker, logger),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the node-monitor and heartbeat-monitor loops.
func (p *EventPipeline) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.runNodeMonitor(ctx)
	go p.runHeartbeatMonitor(ctx)
}

// Stop signals both loops to exit and waits for them.
func (p *EventPipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *EventPipeline) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *EventPipeline) runNodeMonitor(ctx context.Context) {
	defer p.wg.Done()
	p.logger.Info("start monitoring node events")
	for !p.stopped() {
		err := p.breaker.Call(func() error { return p.watchOnce(ctx) })
		delay := p.cfg.PollInterval
		if err != nil {
			p.logger.Warn("node monitor iteration failed", zap.Error(err))
			delay = p.cfg.ErrorBackoff
		}
		if p.sleep(ctx, delay) {
			return
		}
	}
	p.logger.Info("stop monitoring nodes")
}

func (p *EventPipeline) watchOnce(ctx context.Context) error {
	nodes, err := p.watcher.List(ctx)
	if err != nil {
		metrics.RecordWatcherError("list")
		return err
	}
	p.processListNodes(ctx, nodes)

	events, err := p.watcher.Watch(ctx)
	if err != nil {
		metrics.RecordWatcherError("watch")
		return err
	}
	for {
		select {
		case <-p.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			p.processEventSafely(ctx, evt)
		}
	}
}

func (p *EventPipeline) runHeartbeatMonitor(ctx context.Context) {
	defer p.wg.Done()
	p.logger.Info("start node heartbeat monitoring")
	for {
		if p.sleep(ctx, p.cfg.HeartbeatPollInterval) {
			p.logger.Info("stop node heartbeat monitoring")
			return
		}
		for _, evt := range p.deadNodeEvents() {
			p.processEventSafely(ctx, evt)
		}
	}
}

// sleep waits for d, returning true if the pipeline was stopped or the
// context was cancelled while waiting.
func (p *EventPipeline) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-p.stopCh:
		return true
	case <-ctx.Done():
		return true
	}
}

// deadNodeEvents synthesizes a DELETED/no_heartbeat event for every
// running node whose heartbeat is older than HeartbeatWindow, matching
// spec.md S2. A heartbeat timestamp at or before the node's start/create
// time is untrustworthy (clock skew or a stale snapshot) and is skipped
// rather than treated as a hang.
func (p *EventPipeline) deadNodeEvents() []node.Event {
	now := time.Now()
	var events []node.Event
	for _, n := range p.store.JobNodes() {
		if n.Status != node.StatusRunning || n.HasExited() {
			continue
		}
		if n.HeartbeatTime.IsZero() || n.StartTime.IsZero() || n.CreateTime.IsZero() {
			continue
		}
		if now.Sub(n.HeartbeatTime) <= p.cfg.HeartbeatWindow {
			continue
		}
		if !n.HeartbeatTime.After(n.StartTime) || !n.HeartbeatTime.After(n.CreateTime) {
			p.logger.Warn("skip dead node judgement: heartbeat not after start/create",
				zap.String("type", string(n.Type)), zap.Int32("id", n.ID))
			continue
		}

		dead := n
		dead.Status = node.StatusFailed
		dead.ExitReason = node.ExitReasonNoHeartbeat
		events = append(events, node.Event{EventType: node.EventDeleted, Node: dead})
	}
	return events
}

// processListNodes reconciles a list() snapshot against the store: nodes
// missing entirely are re-added, and nodes the store still tracks but the
// snapshot no longer contains are synthesized as DELETED, matching
// dist_job_manager.py's _process_list_nodes. A still-`initial` store node
// gets its own rule ahead of the generic one (spec.md's "newer node at the
// same rank_index with a larger id" case): the snapshot carries the id the
// scheduler actually launched for that rank, so an `initial` entry whose id
// the snapshot has since superseded is marked `deleted`/`relaunched` rather
// than either silently skipped or mistaken for a plain disappearance.
func (p *EventPipeline) processListNodes(ctx context.Context, nodes []node.Node) {
	seen := make(map[node.Key]bool, len(nodes))
	maxIDByRank := make(map[node.Type]map[int32]int32, 4)
	for _, n := range nodes {
		key := n.KeyOf()
		seen[key] = true

		byRank, ok := maxIDByRank[n.Type]
		if !ok {
			byRank = make(map[int32]int32)
			maxIDByRank[n.Type] = byRank
		}
		if n.ID > byRank[n.RankIndex] {
			byRank[n.RankIndex] = n.ID
		}

		if _, ok := p.store.JobNode(key); !ok && n.Status != node.StatusDeleted {
			p.logger.Info("node re-added without event", zap.String("type", string(n.Type)), zap.Int32("id", n.ID))
			p.store.UpdateJobNode(n)
			continue
		}

		evtType := node.EventModified
		if n.Status == node.StatusDeleted {
			evtType = node.EventDeleted
		}
		p.processEventSafely(ctx, node.Event{EventType: evtType, Node: n})
	}

	for key, n := range p.store.JobNodes() {
		if n.IsReleased {
			continue
		}
		if n.Status == node.StatusInitial {
			if newestID, ok := maxIDByRank[n.Type][n.RankIndex]; ok && newestID > n.ID {
				p.logger.Info("initial node superseded by relaunch at same rank_index",
					zap.String("type", string(n.Type)), zap.Int32("id", n.ID), zap.Int32("new_id", newestID))
				gone := n
				gone.IsReleased = true
				gone.Status = node.StatusDeleted
				gone.ExitReason = node.ExitReasonRelaunched
				p.processEventSafely(ctx, node.Event{EventType: node.EventDeleted, Node: gone})
			}
			continue
		}
		if seen[key] {
			continue
		}
		p.logger.Info("node deleted without event", zap.String("type", string(n.Type)), zap.Int32("id", n.ID))
		gone := n
		gone.IsReleased = true
		gone.Status = node.StatusDeleted
		p.processEventSafely(ctx, node.Event{EventType: node.EventDeleted, Node: gone})
	}
}

func (p *EventPipeline) processEventSafely(ctx context.Context, evt node.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing event", zap.Any("panic", r), zap.String("event_type", string(evt.EventType)))
			metrics.RecordEventDropped(string(evt.EventType))
		}
	}()
	if err := p.processEvent(ctx, evt); err != nil {
		p.logger.Warn("process event", zap.Error(err), zap.String("event_type", string(evt.EventType)))
		metrics.RecordEventDropped(string(evt.EventType))
	}
}

func (p *EventPipeline) processEvent(ctx context.Context, evt node.Event) error {
	if evt.EventType == node.EventExit {
		if p.OnExit != nil {
			p.OnExit()
		}
		return nil
	}

	if isGhost, err := p.isGhostDelete(ctx, evt); err != nil {
		p.logger.Warn("deletion recheck failed, proceeding with delete", zap.Error(err))
	} else if isGhost {
		p.logger.Info("dropping deleted event: matching pod still running",
			zap.String("type", string(evt.Node.Type)), zap.Int32("id", evt.Node.ID))
		return nil
	}

	key := evt.Node.KeyOf()

	p.store.Mu.Lock()
	cur, ok := p.store.JobNodeLocked(key)
	if !ok {
		p.store.Mu.Unlock()
		return nil
	}

	var transition statemachine.Transition
	var transOK bool
	if evt.EventType == node.EventDeleted {
		transition, transOK = statemachine.ForDeletedEvent(cur.Status, evt.Node.ExitReason)
	} else {
		transition, transOK = statemachine.Lookup(cur.Status, evt.EventType, evt.Node.Status)
	}
	if !transOK || transition.FromStatus == node.StatusSucceeded {
		p.store.Mu.Unlock()
		return nil
	}

	oldStatus := cur.Status
	cur = mergeNodeInfo(cur, evt.Node)
	cur.Status = transition.ToStatus
	if evt.EventType == node.EventDeleted {
		cur.ExitReason = evt.Node.ExitReason
	}
	p.store.UpdateJobNodeLocked(cur)

	p.notifyCallbacks(oldStatus, transition, cur)

	var decision relaunch.Decision
	if transition.ShouldRelaunch && p.policy != nil {
		decision = p.policy.Evaluate(cur, transition, p.store.GetJobStageLocked())
	}
	if !decision.Allow && decision.Reason != "" {
		metrics.RecordRelaunch(string(cur.Type), false, decision.Reason)
		p.store.QueueActionLocked(key, diagnosis.NewEventAction("ACTION_NOT_RELAUNCH", decision.Reason))
	}
	if decision.Allow && decision.IsRecoveredOOM {
		cur.IsRecoveredOOM = true
		cur.Resource = decision.AdjustedResource
		p.store.UpdateJobNodeLocked(cur)
	}

	p.store.Mu.Unlock()

	instance := fmt.Sprintf("%s-%d", cur.Type, cur.ID)
	if !decision.Allow {
		if decision.Reason != "" && p.Reporter != nil {
			p.Reporter.Report(jobevents.TypeNormal, instance, jobevents.ActionNotRelaunch, decision.Reason)
		}
		return nil
	}
	relaunchFn := p.relaunch[cur.Type]
	if relaunchFn == nil {
		return nil
	}
	plan := relaunchFn(cur)
	metrics.RecordRelaunch(string(cur.Type), true, "")
	if p.Reporter != nil {
		p.Reporter.Report(jobevents.TypeNormal, instance, jobevents.ActionRelaunch, "node relaunched")
	}
	return p.scheduler.Scale(ctx, plan)
}

func mergeNodeInfo(cur, incoming node.Node) node.Node {
	cur.Name = incoming.Name
	if !incoming.CreateTime.IsZero() {
		cur.CreateTime = incoming.CreateTime
	}
	if !incoming.StartTime.IsZero() {
		cur.StartTime = incoming.StartTime
	}
	if incoming.RankIndex != 0 {
		cur.RankIndex = incoming.RankIndex
	}
	if cur.Type == node.TypeWorker && incoming.Group != cur.Group {
		cur.Group = incoming.Group
		cur.GroupSize = incoming.GroupSize
		cur.GroupID = incoming.GroupID
	}
	if incoming.IsReleased {
		cur.IsReleased = true
	}
	return cur
}

func (p *EventPipeline) notifyCallbacks(oldStatus node.Status, transition statemachine.Transition, n node.Node) {
	switch {
	case transition.ToStatus == node.StatusRunning:
		if p.callbacks.OnNodeStarted != nil {
			p.callbacks.OnNodeStarted(n)
		}
	case transition.ToStatus == node.StatusSucceeded:
		if p.callbacks.OnNodeSucceeded != nil {
			p.callbacks.OnNodeSucceeded(n)
		}
	case transition.ToStatus == node.StatusFailed:
		if p.callbacks.OnNodeFailed != nil {
			p.callbacks.OnNodeFailed(n)
		}
	case oldStatus != node.StatusFailed && oldStatus != node.StatusSucceeded && transition.ToStatus == node.StatusDeleted:
		if p.callbacks.OnNodeDeleted != nil {
			p.callbacks.OnNodeDeleted(n)
		}
	}
}

// isGhostDelete implements spec.md S5: a DELETED event (or a node already
// observed deleted) whose exit reason isn't manager-induced is rechecked
// against the scheduler's live pod list before being honored, since a
// cluster-driven relaunch can race the watcher's own event stream.
func (p *EventPipeline) isGhostDelete(ctx context.Context, evt node.Event) (bool, error) {
	if evt.EventType != node.EventDeleted && evt.Node.Status != node.StatusDeleted {
		return false, nil
	}
	if evt.Node.ExitReason.IsPositive() {
		return false, nil
	}

	selector := node.SelectorString(node.UniqueLabels(p.cfg.JobName, evt.Node))
	pods, err := p.scheduler.ListNamespacedPod(ctx, selector)
	if err != nil {
		return false, err
	}
	for _, pod := range pods {
		if pod.Status.Phase == corev1.PodRunning && pod.DeletionTimestamp == nil {
			return true, nil
		}
	}
	return false, nil
}
