// Package model defines the orchestrator's persistent entities: the types
// the store (§6) reads and writes, and the statuses the DAG engine and
// scheduler transition between. Entities are plain structs; lifecycle rules
// live in the packages that own each transition (dag, scheduler, vmpool).
package model

import "time"

// RunStatus is the lifecycle status of a PipelineRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailure   RunStatus = "failure"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run status will never change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailure, RunCancelled:
		return true
	default:
		return false
	}
}

// JobStatus is the lifecycle status of a Job, mirrored by dag.Node.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobReady     JobStatus = "ready"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailure   JobStatus = "failure"
	JobSkipped   JobStatus = "skipped"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobFailure, JobSkipped, JobCancelled:
		return true
	default:
		return false
	}
}

// Project owns pipeline runs.
type Project struct {
	ID          string
	Name        string
	Description string
	ConfigPath  string
}

// PipelineRun is one trigger-to-completion execution of a named pipeline.
type PipelineRun struct {
	ID           string
	ProjectID    string
	PipelineName string
	TriggerType  string
	TriggerData  map[string]string
	Branch       string
	CommitSHA    string
	Status       RunStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Job is one node of a pipeline run's DAG. ID is the concatenation of the
// run id and the logical (matrix-expanded) job name, so matrix siblings get
// distinct ids.
type Job struct {
	ID            string
	PipelineRunID string
	Name          string
	RunnerImage   string
	DependsOn     []string
	Status        JobStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Outputs       map[string]string
	FailureReason string
}

// LogStream identifies which stream a LogRecord was captured from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogRecord is one append-only line of captured job output, ordered by
// (JobID, Seq).
type LogRecord struct {
	JobID     string
	Seq       int64
	Stream    LogStream
	Timestamp time.Time
	Content   string
}

// WebhookDelivery is an immutable audit record of a received webhook.
type WebhookDelivery struct {
	ID         string
	Provider   string
	EventType  string
	Payload    []byte
	Signature  string
	ReceivedAt time.Time
}

// MatrixCombination is one Cartesian-product element produced by the
// planner's matrix expansion, attached to the expanded job it parameterises.
type MatrixCombination struct {
	Index      int
	Values     map[string]any
	NameSuffix string
}

// JobNode is the DAG engine's in-memory view of a job. It is derived from
// Job rows at scheduling time and may be discarded and rebuilt; it is never
// persisted directly.
type JobNode struct {
	ID         string
	Name       string
	DependsOn  []string
	Status     JobStatus
	Dependents []string
}

// VMState is the lifecycle state of a PooledVM.
type VMState string

const (
	VMIdle  VMState = "idle"
	VMInUse VMState = "in-use"
)

// PooledVM is one microVM owned exclusively by the warm pool.
type PooledVM struct {
	ID         string
	Network    VMNetwork
	Index      int
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int
	State      VMState
}

// VMNetwork is the allocated network identity of a PooledVM: a TAP device,
// a guest MAC, and a /30 subnet yielding a guest IP and gateway.
type VMNetwork struct {
	TAPDevice  string
	GuestMAC   string
	GuestIP    string
	Gateway    string
	Subnet     string
	NATIface   string
}
