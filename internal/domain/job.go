package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobSpec describes a unit of work to enqueue.
type JobSpec struct {
	Queue    string          `json:"queue"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Delay    time.Duration   `json:"delay,omitempty"`
	MaxTries int             `json:"max_tries,omitempty"`
	Timeout  time.Duration   `json:"timeout,omitempty"`
}

// Job is a reserved unit of work handed to a handler.
type Job struct {
	ID          int64           `json:"id"`
	UUID        string          `json:"uuid"`
	Queue       string          `json:"queue"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxTries    int             `json:"max_tries"`
	Timeout     time.Duration   `json:"timeout"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FailedJob is a job that exhausted its retries.
type FailedJob struct {
	ID        int64           `json:"id"`
	UUID      string          `json:"uuid"`
	Queue     string          `json:"queue"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Exception string          `json:"exception"`
	FailedAt  time.Time       `json:"failed_at"`
}

// JobHandler runs one job. Returning an error counts as a failed attempt.
type JobHandler func(ctx context.Context, job Job) error

// JobQueue accepts work for asynchronous execution.
type JobQueue interface {
	Enqueue(ctx context.Context, spec JobSpec) (string, error)
}

// FailedJobStore is the durable store of jobs that exhausted their retries.
type FailedJobStore interface {
	ListFailed(ctx context.Context, limit int) ([]FailedJob, error)
	// Retry moves the failed job back onto its queue with a fresh attempt count.
	Retry(ctx context.Context, uuid string) error
	// Forget removes the failed job without retrying it.
	Forget(ctx context.Context, uuid string) error
}

// Queue names shared by producers and the worker pool.
const (
	QueueDefault     = "default"
	QueueAgents      = "agents"
	QueueTools       = "tools"
	QueueMaintenance = "maintenance"
)

// Job kinds handled by the core.
const (
	JobReasoningCycle  = "reasoning.cycle"
	JobToolBatch       = "tool.batch"
	JobHealingInline   = "healing.inline"
	JobHealingSweep    = "healing.sweep"
	JobTriagePass      = "triage.pass"
	JobMissionsSweep   = "missions.sweep"
	JobMissionDispatch = "mission.dispatch"
	JobCachePurge      = "cache.purge"
)

// ReasoningPayload starts one orchestrator cycle.
type ReasoningPayload struct {
	ConversationID string `json:"conversation_id"`
	StepBudget     int    `json:"step_budget"`
	Depth          int    `json:"depth"`
}

// ToolBatchPayload carries the tool calls of one assistant message.
type ToolBatchPayload struct {
	ConversationID string     `json:"conversation_id"`
	Calls          []ToolCall `json:"calls"`
	StepBudget     int        `json:"step_budget"`
	Depth          int        `json:"depth"`
}

// HealingPayload describes a failed tool call to remediate inline.
type HealingPayload struct {
	ConversationID string    `json:"conversation_id"`
	ToolName       string    `json:"tool_name"`
	Error          string    `json:"error"`
	Kind           ErrorKind `json:"kind"`
	Depth          int       `json:"depth"`
	StepBudget     int       `json:"step_budget"`
}

// MissionPayload names a scheduled mission to dispatch.
type MissionPayload struct {
	MissionID string `json:"mission_id"`
}

// NewJobSpec encodes payload as JSON into a spec for kind on queue.
func NewJobSpec(queue, kind string, payload any) (JobSpec, error) {
	spec := JobSpec{Queue: queue, Kind: kind}
	if payload == nil {
		return spec, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return JobSpec{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	spec.Payload = data
	return spec, nil
}

// DecodePayload unmarshals the job payload into v.
func DecodePayload(job Job, v any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return NewDomainError("DecodePayload", ErrInvalidInput, fmt.Sprintf("%s payload: %v", job.Kind, err))
	}
	return nil
}
