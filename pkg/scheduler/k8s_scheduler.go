package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/elasticjob/master/pkg/metrics"
	"github.com/elasticjob/master/pkg/node"
)

// PodTemplateFunc renders the job-specific part of a node's container
// spec (image, command, resource requests): everything this package
// itself has no business knowing about. K8sScheduler fills in the
// env/label/name/namespace wiring the actuator owns.
type PodTemplateFunc func(n node.Node) corev1.PodSpec

// Config configures a K8sScheduler.
type Config struct {
	Namespace string
	JobName   string
	JobUID    string
	// Port is the service port rendered into TF_CONFIG addresses.
	Port int32
	// HostPorts is the HOST_PORTS env value, verbatim.
	HostPorts string
	// QueueSize bounds the create queue; Scale blocks once it is full.
	QueueSize int
	// MaxRetries bounds pod-create retries before a launch is abandoned.
	MaxRetries int
	// RetryBackoff is the delay before a failed create is requeued.
	RetryBackoff time.Duration
	// PodTemplate renders the job-specific part of the pod spec.
	PodTemplate PodTemplateFunc
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Port == 0 {
		c.Port = 2222
	}
}

type createRequest struct {
	node    node.Node
	attempt int
}

// K8sScheduler is the client-go backed Scheduler: it renders pod/service
// specs from a ScalePlan and applies them through a bounded create-queue
// worker, mirroring the teacher's ScaleDownManager (own config-with-
// defaults, own lock, own metrics, candidate-then-act pipeline)
// generalized from node draining to pod creation.
type K8sScheduler struct {
	client kubernetes.Interface
	cfg    Config
	logger *zap.Logger

	// OnCreateFailed is invoked when a launch exhausts its retry budget.
	// The job manager wires this to mark the node failed with
	// exit_reason=killed, since this package does not own NodeStore.
	OnCreateFailed func(node.Node)

	scaleMu sync.Mutex // serializes Scale calls

	stateMu  sync.Mutex
	psAddrs  []string
	podStats map[node.Type][]node.Node

	queue  chan createRequest
	wg     sync.WaitGroup // outstanding create-futures for the in-flight Scale call
	stopCh chan struct{}
}

// NewK8sScheduler returns a Scheduler backed by the given client.
func NewK8sScheduler(client kubernetes.Interface, cfg Config, logger *zap.Logger) *K8sScheduler {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &K8sScheduler{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		podStats: map[node.Type][]node.Node{},
		queue:    make(chan createRequest, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the create-queue worker.
func (s *K8sScheduler) Start(ctx context.Context) error {
	go s.runCreateWorker(ctx)
	return nil
}

// Stop halts the create-queue worker.
func (s *K8sScheduler) Stop() {
	close(s.stopCh)
}

// Scale applies one ScalePlan: it atomically swaps ps_addrs and the pod
// stats snapshot, enqueues every launch, applies every removal, then
// blocks until the launches it enqueued have drained (created or
// permanently failed) before returning. Calls are serialized by scaleMu
// so plans are applied in the order Scale was called, per spec.md §4.7.
func (s *K8sScheduler) Scale(ctx context.Context, plan node.ScalePlan) error {
	if plan.Empty() {
		return nil
	}

	s.scaleMu.Lock()
	defer s.scaleMu.Unlock()

	s.applyPlanState(plan)

	launched, removed := map[string]int{}, map[string]int{}
	for _, n := range plan.LaunchNodes {
		launched[string(n.Type)]++
	}
	for _, n := range plan.RemoveNodes {
		removed[string(n.Type)]++
	}
	metrics.RecordScalePlan("scheduler", launched, removed)

	for _, n := range plan.RemoveNodes {
		if err := s.removeNode(ctx, n); err != nil {
			s.logger.Warn("remove node", zap.String("type", string(n.Type)), zap.Int32("id", n.ID), zap.Error(err))
		}
	}

	for _, n := range plan.LaunchNodes {
		s.wg.Add(1)
		select {
		case s.queue <- createRequest{node: n}:
		case <-ctx.Done():
			s.wg.Done()
			return ctx.Err()
		}
	}
	metrics.RecordCreateQueueDepth(len(s.queue))

	s.wg.Wait()
	return nil
}

// applyPlanState folds the plan's declarative resources and PS addresses
// into the snapshot the TF_CONFIG builder consults.
func (s *K8sScheduler) applyPlanState(plan node.ScalePlan) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	// nil means the plan never touched PS membership (most plans don't);
	// a non-nil, possibly empty slice is an explicit membership update,
	// including CloseJob's drain-to-empty on shutdown. len(...) > 0 would
	// conflate "not set" with "explicitly cleared" and silently keep
	// stale addresses around after a drain.
	if plan.PSAddrs != nil {
		s.psAddrs = append([]string(nil), plan.PSAddrs...)
	}
	for _, n := range plan.LaunchNodes {
		s.podStats[n.Type] = append(s.podStats[n.Type], n)
	}
	for _, n := range plan.RemoveNodes {
		s.podStats[n.Type] = removeByID(s.podStats[n.Type], n.ID)
	}
}

func removeByID(nodes []node.Node, id int32) []node.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func (s *K8sScheduler) runCreateWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case req := <-s.queue:
			s.handleCreate(ctx, req)
		}
	}
}

func (s *K8sScheduler) handleCreate(ctx context.Context, req createRequest) {
	defer s.wg.Done()

	if err := s.createPodAndService(ctx, req.node); err != nil {
		if req.attempt >= s.cfg.MaxRetries {
			s.logger.Error("pod create abandoned after retries",
				zap.String("type", string(req.node.Type)), zap.Int32("id", req.node.ID), zap.Error(err))
			if s.OnCreateFailed != nil {
				s.OnCreateFailed(req.node)
			}
			return
		}
		metrics.RecordPodCreateRetry(string(req.node.Type))
		s.logger.Warn("pod create failed, retrying",
			zap.String("type", string(req.node.Type)), zap.Int32("id", req.node.ID), zap.Int("attempt", req.attempt), zap.Error(err))

		s.wg.Add(1)
		time.AfterFunc(s.cfg.RetryBackoff, func() {
			select {
			case s.queue <- createRequest{node: req.node, attempt: req.attempt + 1}:
			case <-ctx.Done():
				s.wg.Done()
			}
		})
	}
}

func (s *K8sScheduler) createPodAndService(ctx context.Context, n node.Node) error {
	pod := s.renderPod(n)
	if _, err := s.client.CoreV1().Pods(s.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("create pod: %w", err)
		}
	}

	svc := s.renderService(n)
	if _, err := s.client.CoreV1().Services(s.cfg.Namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("create service: %w", err)
		}
	}
	return nil
}

func (s *K8sScheduler) renderPod(n node.Node) *corev1.Pod {
	s.stateMu.Lock()
	podStats := make(map[node.Type][]node.Node, len(s.podStats))
	for t, ns := range s.podStats {
		podStats[t] = append([]node.Node(nil), ns...)
	}
	psAddrs := append([]string(nil), s.psAddrs...)
	s.stateMu.Unlock()

	svc := newServiceFunc(s.cfg.JobName, s.cfg.Namespace, s.cfg.Port)
	env, err := buildPodEnv(n, s.cfg.JobName, s.cfg.JobUID, s.cfg.HostPorts, podStats, svc, psAddrs, n.Type == node.TypeWorker)
	if err != nil {
		s.logger.Error("build pod env", zap.Error(err))
	}

	var spec corev1.PodSpec
	if s.cfg.PodTemplate != nil {
		spec = s.cfg.PodTemplate(n)
	}
	for i := range spec.Containers {
		for name, value := range env.envVars() {
			spec.Containers[i].Env = append(spec.Containers[i].Env, corev1.EnvVar{Name: name, Value: value})
		}
	}

	labels := node.PodLabels(s.cfg.JobName, n)
	labels[node.NodeGroupSchedulingLabelKey] = fmt.Sprintf("%d", n.Group)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(s.cfg.JobName, n),
			Namespace: s.cfg.Namespace,
			Labels:    labels,
		},
		Spec: spec,
	}
}

func (s *K8sScheduler) renderService(n node.Node) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName(s.cfg.JobName, n),
			Namespace: s.cfg.Namespace,
			Labels:    node.UniqueLabels(s.cfg.JobName, n),
		},
		Spec: corev1.ServiceSpec{
			Selector:  node.UniqueLabels(s.cfg.JobName, n),
			ClusterIP: corev1.ClusterIPNone,
			Ports: []corev1.ServicePort{
				{Port: s.cfg.Port, TargetPort: intstr.FromInt(int(s.cfg.Port))},
			},
		},
	}
}

func podName(jobName string, n node.Node) string {
	return fmt.Sprintf("%s-edljob-%s-%d", jobName, n.Type, n.ID)
}

func (s *K8sScheduler) removeNode(ctx context.Context, n node.Node) error {
	name := podName(s.cfg.JobName, n)
	if err := s.client.CoreV1().Pods(s.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pod: %w", err)
	}
	if err := s.client.CoreV1().Services(s.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

// ListNamespacedPod returns live pods matching a label selector, used by
// the event pipeline's deletion-filtering check.
func (s *K8sScheduler) ListNamespacedPod(ctx context.Context, labelSelector string) ([]corev1.Pod, error) {
	pods, err := s.client.CoreV1().Pods(s.cfg.Namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return pods.Items, nil
}

// CordonNode marks a cluster node unschedulable.
func (s *K8sScheduler) CordonNode(ctx context.Context, host string) error {
	patch := []byte(`{"spec":{"unschedulable":true}}`)
	if _, err := s.client.CoreV1().Nodes().Patch(ctx, host, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return fmt.Errorf("cordon node %s: %w", host, err)
	}
	return nil
}
