package watcher

import (
	"context"
	"fmt"
	"strconv"

	jobnode "github.com/elasticjob/master/pkg/node"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// KubernetesWatcher is the client-go backed NodeWatcher: it lists and
// watches the job's pods by label selector and translates pod phases into
// node.Event values.
type KubernetesWatcher struct {
	client    kubernetes.Interface
	namespace string
	jobName   string
}

// NewKubernetesWatcher returns a NodeWatcher backed by the given client.
func NewKubernetesWatcher(client kubernetes.Interface, namespace, jobName string) *KubernetesWatcher {
	return &KubernetesWatcher{client: client, namespace: namespace, jobName: jobName}
}

func (w *KubernetesWatcher) selector() string {
	return fmt.Sprintf("%s=%s", jobnode.AppLabelKey, w.jobName)
}

// List returns the current pod snapshot translated to nodes.
func (w *KubernetesWatcher) List(ctx context.Context) ([]jobnode.Node, error) {
	pods, err := w.client.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: w.selector(),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	nodes := make([]jobnode.Node, 0, len(pods.Items))
	for _, pod := range pods.Items {
		nodes = append(nodes, podToNode(&pod))
	}
	return nodes, nil
}

// Watch opens a pod watch scoped to the job's label selector and
// translates ADDED/MODIFIED/DELETED watch events into node.Events.
func (w *KubernetesWatcher) Watch(ctx context.Context) (<-chan jobnode.Event, error) {
	watcher, err := w.client.CoreV1().Pods(w.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: w.selector(),
		FieldSelector: fields.Everything().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("watch pods: %w", err)
	}

	out := make(chan jobnode.Event)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.ResultChan():
				if !ok {
					return
				}
				pod, ok := evt.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				translated, ok := translateWatchEvent(evt.Type, pod)
				if !ok {
					continue
				}
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func translateWatchEvent(t watch.EventType, pod *corev1.Pod) (jobnode.Event, bool) {
	switch t {
	case watch.Added:
		return jobnode.Event{EventType: jobnode.EventAdded, Node: podToNode(pod)}, true
	case watch.Modified:
		return jobnode.Event{EventType: jobnode.EventModified, Node: podToNode(pod)}, true
	case watch.Deleted:
		return jobnode.Event{EventType: jobnode.EventDeleted, Node: podToNode(pod)}, true
	default:
		return jobnode.Event{}, false
	}
}

func podToNode(pod *corev1.Pod) jobnode.Node {
	replicaIndex, _ := strconv.Atoi(pod.Labels[jobnode.ReplicaIndexLabelKey])
	rankIndex, _ := strconv.Atoi(pod.Labels[jobnode.RankIndexLabelKey])

	n := jobnode.Node{
		Type:       jobnode.Type(pod.Labels[jobnode.ReplicaTypeLabelKey]),
		ID:         int32(replicaIndex),
		RankIndex:  int32(rankIndex),
		Name:       pod.Name,
		Status:     podPhaseToStatus(pod),
		CreateTime: pod.CreationTimestamp.Time,
	}
	if pod.DeletionTimestamp != nil {
		n.Status = jobnode.StatusDeleted
	}
	return n
}

func podPhaseToStatus(pod *corev1.Pod) jobnode.Status {
	switch pod.Status.Phase {
	case corev1.PodPending:
		return jobnode.StatusPending
	case corev1.PodRunning:
		return jobnode.StatusRunning
	case corev1.PodSucceeded:
		return jobnode.StatusSucceeded
	case corev1.PodFailed:
		return jobnode.StatusFailed
	default:
		return jobnode.StatusInitial
	}
}
