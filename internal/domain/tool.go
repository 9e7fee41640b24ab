package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolContext identifies the conversation and agent a tool runs for. The
// pipeline passes it explicitly on every call.
type ToolContext struct {
	ConversationID string
	AgentID        string
	AgentName      string
	Depth          int
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	ToolCallID string    `json:"tool_call_id"`
	Content    string    `json:"content"`
	IsError    bool      `json:"is_error"`
	Kind       ErrorKind `json:"kind,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, tc ToolContext, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}

// ToolError is returned by tools that know what kind of failure occurred.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError tags err with a failure kind.
func NewToolError(tool string, kind ErrorKind, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Err: err}
}

// KindOf returns the failure kind attached to err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrToolNotFound):
		return KindAgentReasoning
	case IsRetryableError(err):
		return KindTransient
	}
	return KindUnknown
}
