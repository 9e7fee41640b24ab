package domain

import (
	"encoding/json"
	"time"
)

// TraceStatus is the lifecycle of one tool invocation.
type TraceStatus string

const (
	TraceExecuting TraceStatus = "executing"
	TraceSuccess   TraceStatus = "success"
	TraceError     TraceStatus = "error"
)

// Trace is the append-only audit record of a tool invocation.
type Trace struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	AgentID        string          `json:"agent_id"`
	ToolCallID     string          `json:"tool_call_id"`
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input"`
	Output         string          `json:"output,omitempty"`
	Status         TraceStatus     `json:"status"`
	ErrorKind      ErrorKind       `json:"error_kind,omitempty"`
	Duration       time.Duration   `json:"duration"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitzero"`
}
