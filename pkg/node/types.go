// Package node defines the core value types the job master operates on:
// Node, its identity/status/exit-reason enums, and the ScalePlan value
// object handed to the scheduler.
package node

import "time"

// Type identifies the role a node plays in the training job.
type Type string

const (
	TypeWorker    Type = "worker"
	TypeChief     Type = "chief"
	TypePS        Type = "ps"
	TypeEvaluator Type = "evaluator"
	TypeMaster    Type = "master"
)

// Status is the node's lifecycle status.
type Status string

const (
	StatusInitial   Status = "initial"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusFinished  Status = "finished"
	StatusDeleted   Status = "deleted"
)

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// ExitReason classifies why a node left the running state.
type ExitReason string

const (
	ExitReasonNone        ExitReason = "none"
	ExitReasonFatalError  ExitReason = "fatal_error"
	ExitReasonOOM         ExitReason = "oom"
	ExitReasonKilled      ExitReason = "killed"
	ExitReasonNoHeartbeat ExitReason = "no_heartbeat"
	ExitReasonDiagFail    ExitReason = "diag_fail"
	ExitReasonRelaunched  ExitReason = "relaunched"
)

// IsPositive reports whether the manager itself induced the exit and can
// therefore trust it without cross-checking the live cluster.
func (r ExitReason) IsPositive() bool {
	return r == ExitReasonDiagFail || r == ExitReasonNoHeartbeat
}

// EventType is the kind of a NodeEvent observed or synthesized by the
// event pipeline.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	// EventExit is master-synthesized and triggers job close rather than a
	// node state transition.
	EventExit EventType = "exit"
)

// ReportedNodeStatus is the training agent's last self-reported status,
// distinct from the cluster-observed Status.
type ReportedNodeStatus string

const (
	ReportedNone            ReportedNodeStatus = ""
	ReportedSucceededExited ReportedNodeStatus = "SUCCEEDED_EXITED"
	ReportedNodeCheckFailed ReportedNodeStatus = "NODE_CHECK_FAILED"
)

// JobStage is the lifecycle stage of the job as a whole.
type JobStage string

const (
	JobStageRunning  JobStage = "running"
	JobStageStopping JobStage = "stopping"
)

// ResourceSpec describes declared or observed compute resources.
type ResourceSpec struct {
	CPU      float64 `json:"cpu"`
	MemoryMB int64   `json:"memory_mb"`
	GPUNum   int32   `json:"gpu_num,omitempty"`
	GPUType  string  `json:"gpu_type,omitempty"`
}

// ParallelConfig carries the training-framework parallelism configuration
// reported by the agent; it is omitted from the wire form when zero.
type ParallelConfig struct {
	DataParallelism  int32 `json:"data_parallelism,omitempty"`
	ModelParallelism int32 `json:"model_parallelism,omitempty"`
}

// IsZero reports whether the config carries no information.
func (p ParallelConfig) IsZero() bool {
	return p.DataParallelism == 0 && p.ModelParallelism == 0
}

// ReportedStatusRecord is the tuple of the agent's last self-reported
// event and when it was reported.
type ReportedStatusRecord struct {
	Status    ReportedNodeStatus `json:"status,omitempty"`
	UpdatedAt time.Time          `json:"updated_at,omitempty"`
}

// Node is one logical process instance of the training job.
type Node struct {
	Type Type  `json:"type"`
	ID   int32 `json:"id"`

	RankIndex   int32  `json:"rank_index"`
	Name        string `json:"name,omitempty"`
	ServiceAddr string `json:"service_addr,omitempty"`

	Group     int32 `json:"group,omitempty"`
	GroupSize int32 `json:"group_size,omitempty"`
	GroupID   int32 `json:"group_id,omitempty"`

	Resource         ResourceSpec `json:"resource"`
	UsedResource     ResourceSpec `json:"used_resource"`
	ParalConfig      ParallelConfig `json:"paral_config,omitempty"`
	RestartTraining  bool         `json:"restart_training,omitempty"`

	Status     Status     `json:"status"`
	IsReleased bool       `json:"is_released"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`

	RelaunchCount    int32 `json:"relaunch_count"`
	MaxRelaunchCount int32 `json:"max_relaunch_count"`
	Relaunchable     bool  `json:"relaunchable"`

	Critical       bool `json:"critical,omitempty"`
	IsRecoveredOOM bool `json:"is_recovered_oom,omitempty"`

	CreateTime    time.Time `json:"create_time"`
	StartTime     time.Time `json:"start_time,omitempty"`
	HeartbeatTime time.Time `json:"heartbeat_time,omitempty"`
	StartHangTime time.Time `json:"start_hang_time,omitempty"`

	ReportedStatus ReportedStatusRecord `json:"reported_status,omitempty"`
}

// MaxSystemRelaunchCount is the system-wide relaunch budget ceiling; no
// node's MaxRelaunchCount may exceed it.
const MaxSystemRelaunchCount = 5

// DistributionStrategy is the job's parallel training topology. It governs
// which RelaunchPolicy/HangDetector branches apply (PS jobs use a
// parameter-server cluster; AllReduce jobs elect no PS and instead gate on
// node-check / world-size conditions).
type DistributionStrategy string

const (
	StrategyParameterServer DistributionStrategy = "parameter_server"
	StrategyAllReduce       DistributionStrategy = "allreduce"
)

// JobConfig carries the job-wide policy parameters consulted by
// RelaunchPolicy, HangDetector and NodeGroupManager. It is immutable once
// the job starts; only Node-level bookkeeping mutates during the run.
type JobConfig struct {
	Strategy DistributionStrategy

	// RelaunchAlways permits relaunch of a fatal_error exit that would
	// otherwise be denied.
	RelaunchAlways bool

	// MaxMemoryMB is the ceiling an OOM-recovered node's bumped memory
	// request may not reach or exceed.
	MaxMemoryMB int64

	// PendingFailStrategy selects the pending-hang rule HangDetector
	// applies: 1 is relaxed for all-reduce jobs (a pending node among an
	// otherwise-running group never blocks), 2 applies the deficit check
	// uniformly to both strategies.
	PendingFailStrategy int

	// InsufficientWorkerTimeout is how long running-count may stay below
	// the required minimum before HangDetector calls it unrecoverable, for
	// all-reduce jobs.
	InsufficientWorkerTimeout time.Duration
}

// IsAllReduce reports whether the job uses the all-reduce strategy.
func (c JobConfig) IsAllReduce() bool {
	return c.Strategy == StrategyAllReduce
}

// JobExitReason classifies why the job as a whole was stopped early, as
// opposed to ExitReason which classifies a single node's exit.
type JobExitReason string

const (
	JobExitReasonNone              JobExitReason = ""
	JobExitReasonNodeCheckFailed   JobExitReason = "NODE_CHECK_FAILED"
	JobExitReasonPendingTimeout    JobExitReason = "PENDING_TIMEOUT"
	JobExitReasonUncompletedTimeout JobExitReason = "UNCOMPLETED_TIMEOUT"
)

// Clone returns a deep value copy of the node. Every synthesized event
// must carry a clone, never an alias into the store, so a concurrent
// mutation cannot corrupt an in-flight decision.
func (n Node) Clone() Node {
	return n
}

// Key identifies a node uniquely within the job.
type Key struct {
	Type Type
	ID   int32
}

// KeyOf returns the node's store key.
func (n Node) KeyOf() Key {
	return Key{Type: n.Type, ID: n.ID}
}

// HasExited reports whether the node reached a terminal, non-running state
// (used by relaunch/hang bookkeeping; KILLED does not count as a training
// exit since the manager itself induced it for housekeeping reasons).
func (n Node) HasExited() bool {
	if n.Status == StatusSucceeded || n.Status == StatusFinished {
		return true
	}
	if n.Status == StatusFailed && n.ExitReason != ExitReasonKilled {
		return true
	}
	if n.ReportedStatus.Status == ReportedSucceededExited {
		return true
	}
	return false
}
