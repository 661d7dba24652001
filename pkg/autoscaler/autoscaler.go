package autoscaler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elasticjob/master/pkg/metrics"
	"github.com/elasticjob/master/pkg/node"
	"github.com/elasticjob/master/pkg/nodegroup"
	"github.com/elasticjob/master/pkg/scheduler"
)

// errorBackoff is the pause after a watch failure before retrying, matching
// `_monitor_scale_plan_crd`'s `time.sleep(5)` on an unhandled exception.
const errorBackoff = 5 * time.Second

// JobAutoScaler executes externally-pushed scale plans against the node
// groups it was configured with. One Manager per node type the plan is
// allowed to touch; a plan referencing an unconfigured type is rejected for
// that type only, the rest of the plan still executes.
type JobAutoScaler struct {
	managers  map[node.Type]*nodegroup.Manager
	scheduler scheduler.Scheduler
	logger    *zap.Logger

	// PSAddrsFunc, if set, supplies the current PS cluster membership so
	// a plan that (re)sizes the PS group still carries consistent
	// addresses to the scheduler's env rendering.
	PSAddrsFunc func() []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a JobAutoScaler bound to one nodegroup.Manager per node type
// it is permitted to scale.
func New(managers map[node.Type]*nodegroup.Manager, sched scheduler.Scheduler, logger *zap.Logger) *JobAutoScaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobAutoScaler{
		managers:  managers,
		scheduler: sched,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Run watches w for plans and executes each one until ctx is cancelled or
// Stop is called. A watch failure logs and retries after errorBackoff,
// matching the original's per-iteration try/except around the whole watch
// loop rather than aborting the monitor goroutine.
func (a *JobAutoScaler) Run(ctx context.Context, w PlanWatcher) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			default:
			}

			plans, err := w.Watch(ctx)
			if err != nil {
				a.logger.Warn("scale plan watch failed", zap.Error(err))
				if !a.sleep(ctx, errorBackoff) {
					return
				}
				continue
			}

			a.drain(ctx, plans)
		}
	}()
}

func (a *JobAutoScaler) drain(ctx context.Context, plans <-chan Plan) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case plan, ok := <-plans:
			if !ok {
				return
			}
			if err := a.ExecuteJobOptimizationPlan(ctx, plan); err != nil {
				a.logger.Warn("scale plan execution failed", zap.String("planID", plan.ID), zap.Error(err))
			}
		}
	}
}

func (a *JobAutoScaler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-a.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop ends Run's loop and waits for it to return.
func (a *JobAutoScaler) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// ExecuteJobOptimizationPlan diffs plan's desired counts against the
// current running count per type, folds the resulting launches/removals
// from each nodegroup.Manager into a single node.ScalePlan, and hands it to
// the scheduler. Unknown node types are skipped with a warning rather than
// failing the whole plan.
func (a *JobAutoScaler) ExecuteJobOptimizationPlan(ctx context.Context, plan Plan) error {
	if plan.Empty() {
		return nil
	}

	combined := node.NewScalePlan()
	launchedByType := map[string]int{}
	removedByType := map[string]int{}

	for typ, desired := range plan.DesiredGroupResources {
		mgr, ok := a.managers[typ]
		if !ok {
			a.logger.Warn("scale plan references unconfigured node type", zap.String("type", string(typ)))
			continue
		}

		current := int32(len(mgr.GetRunningNodes()))
		diff := desired.Count - current

		var sub node.ScalePlan
		switch {
		case diff > 0:
			sub = mgr.ScaleUp(diff, desired.Resource)
		case diff < 0:
			sub = mgr.ScaleDown(-diff)
		default:
			combined.NodeGroupResources[typ] = desired
			continue
		}

		combined.NodeGroupResources[typ] = desired
		combined.LaunchNodes = append(combined.LaunchNodes, sub.LaunchNodes...)
		combined.RemoveNodes = append(combined.RemoveNodes, sub.RemoveNodes...)
		launchedByType[string(typ)] += len(sub.LaunchNodes)
		removedByType[string(typ)] += len(sub.RemoveNodes)
	}

	if a.PSAddrsFunc != nil {
		combined.PSAddrs = a.PSAddrsFunc()
	}

	if combined.Empty() {
		return nil
	}

	metrics.RecordScalePlan("autoscaler", launchedByType, removedByType)

	if err := a.scheduler.Scale(ctx, combined); err != nil {
		return fmt.Errorf("executing scale plan %s: %w", plan.ID, err)
	}
	return nil
}
