package main

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/elasticjob/master/pkg/node"
)

// newPodTemplate returns the PodTemplateFunc the scheduler fills env,
// name and label wiring into. It renders the single job-specific
// container (image, command, resource requests); everything cluster
// identity related is the scheduler's job, not this package's.
func newPodTemplate(image string, command []string) func(n node.Node) corev1.PodSpec {
	return func(n node.Node) corev1.PodSpec {
		return corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    "elasticjob-" + string(n.Type),
					Image:   image,
					Command: command,
					Resources: corev1.ResourceRequirements{
						Requests: resourceList(n.Resource),
						Limits:   resourceList(n.Resource),
					},
				},
			},
		}
	}
}

func resourceList(r node.ResourceSpec) corev1.ResourceList {
	list := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(r.CPU*1000), resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(r.MemoryMB*1024*1024, resource.BinarySI),
	}
	if r.GPUNum > 0 {
		list[corev1.ResourceName(fmt.Sprintf("nvidia.com/%s", gpuTypeOrDefault(r.GPUType)))] = *resource.NewQuantity(int64(r.GPUNum), resource.DecimalSI)
	}
	return list
}

func gpuTypeOrDefault(t string) string {
	if t == "" {
		return "gpu"
	}
	return t
}
