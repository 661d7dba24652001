package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/elasticjob/master/pkg/node"
)

// TFConfig is the wire form of the TF_CONFIG environment variable, per
// spec.md §6: {"cluster":{"ps":[...],"worker":[...],"chief":[...]},"task":{"type":...,"index":...}}.
type TFConfig struct {
	Cluster TFCluster `json:"cluster"`
	Task    TFTask    `json:"task"`
}

// TFCluster lists every member address, keyed by role.
type TFCluster struct {
	PS     []string `json:"ps,omitempty"`
	Worker []string `json:"worker,omitempty"`
	Chief  []string `json:"chief,omitempty"`
}

// TFTask identifies which cluster member the running process is.
type TFTask struct {
	Type  node.Type `json:"type"`
	Index int32     `json:"index"`
}

// serviceFunc renders a node's address, mirroring node.ServiceName bound to
// one job/namespace/port.
type serviceFunc func(n node.Node) string

// newServiceFunc returns the service_fn the TF_CONFIG builder and env
// renderer share.
func newServiceFunc(jobName, namespace string, port int32) serviceFunc {
	return func(n node.Node) string {
		return node.ServiceName(jobName, namespace, n, port)
	}
}

// newTFConfig builds the TF_CONFIG value for one node, given the current
// pod stats snapshot (alive nodes per type, used to enumerate cluster
// members), the service-address function, and the PS cluster addresses
// authoritative at plan time.
func newTFConfig(podStats map[node.Type][]node.Node, svc serviceFunc, self node.Node, psAddrs []string) TFConfig {
	cfg := TFConfig{
		Task: TFTask{Type: self.Type, Index: self.ID},
	}
	if workers, ok := podStats[node.TypeWorker]; ok {
		cfg.Cluster.Worker = addrsByID(workers, svc)
	}
	if chiefs, ok := podStats[node.TypeChief]; ok {
		cfg.Cluster.Chief = addrsByID(chiefs, svc)
	}
	cfg.Cluster.PS = append([]string(nil), psAddrs...)
	return cfg
}

func addrsByID(nodes []node.Node, svc serviceFunc) []string {
	sorted := append([]node.Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make([]string, len(sorted))
	for i, n := range sorted {
		out[i] = svc(n)
	}
	return out
}

// podEnv is the full env-var set rendered for one node's container spec.
type podEnv struct {
	TFConfig      string
	WorldSize     int32
	Rank          int32
	WorkerNum     int32
	ElasticJobName string
	JobUID        string
	HostPorts     string
}

// buildPodEnv renders the standard vars plus TF_CONFIG described in
// spec.md §4.7. WorldSize/Rank are only meaningful for all-reduce jobs;
// PS-strategy jobs leave them zero since TF_CONFIG already carries the
// cluster topology those jobs rendezvous from.
func buildPodEnv(self node.Node, jobName, jobUID string, hostPorts string, podStats map[node.Type][]node.Node, svc serviceFunc, psAddrs []string, allReduce bool) (podEnv, error) {
	cfg := newTFConfig(podStats, svc, self, psAddrs)
	raw, err := json.Marshal(cfg)
	if err != nil {
		return podEnv{}, fmt.Errorf("marshal TF_CONFIG: %w", err)
	}

	env := podEnv{
		TFConfig:       string(raw),
		WorkerNum:      int32(len(podStats[node.TypeWorker])),
		ElasticJobName: jobName,
		JobUID:         jobUID,
		HostPorts:      hostPorts,
	}
	if allReduce {
		env.WorldSize = int32(len(podStats[node.TypeWorker]))
		env.Rank = self.RankIndex
	}
	return env, nil
}

// envVars renders podEnv as an (unordered) name-to-value map, suitable for
// assembling a corev1.Container's Env field.
func (e podEnv) envVars() map[string]string {
	out := map[string]string{
		"TF_CONFIG":        e.TFConfig,
		"WORKER_NUM":       fmt.Sprintf("%d", e.WorkerNum),
		"ELASTIC_JOB_NAME": e.ElasticJobName,
		"JOB_UID":          e.JobUID,
		"HOST_PORTS":       e.HostPorts,
	}
	if e.WorldSize > 0 {
		out["WORLD_SIZE"] = fmt.Sprintf("%d", e.WorldSize)
		out["RANK"] = fmt.Sprintf("%d", e.Rank)
	}
	return out
}
