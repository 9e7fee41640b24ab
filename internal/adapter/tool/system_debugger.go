package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
)

const maxDebugOutput = 500

// SystemDebuggerTool gives an agent read access to its own execution history
// so it can diagnose failed tool calls.
type SystemDebuggerTool struct {
	traces  domain.TraceStore
	failed  domain.FailedJobStore
	backlog domain.BacklogStore
	logger  *slog.Logger
}

// NewSystemDebuggerTool creates the tool. Any store may be nil, which
// disables the matching action.
func NewSystemDebuggerTool(traces domain.TraceStore, failed domain.FailedJobStore, backlog domain.BacklogStore, logger *slog.Logger) *SystemDebuggerTool {
	return &SystemDebuggerTool{traces: traces, failed: failed, backlog: backlog, logger: logger}
}

func (t *SystemDebuggerTool) Name() string { return "system_debugger" }
func (t *SystemDebuggerTool) Description() string {
	return "Inspect recent tool traces for this conversation, failed background jobs, or a backlog snapshot. Use it to diagnose why a tool call failed."
}

func (t *SystemDebuggerTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"description": "One of: traces, failed_jobs, backlog"
				},
				"all": {
					"type": "boolean",
					"description": "traces: include every conversation, not just this one"
				},
				"errors_only": {
					"type": "boolean",
					"description": "traces: only failed invocations"
				},
				"limit": {
					"type": "integer",
					"minimum": 1,
					"maximum": 100,
					"description": "Max entries (default 10)"
				}
			},
			"required": ["action"]
		}`),
	}
}

type debuggerParams struct {
	Action     string `json:"action"`
	All        bool   `json:"all"`
	ErrorsOnly bool   `json:"errors_only"`
	Limit      int    `json:"limit"`
}

func (p debuggerParams) ActionName() string { return p.Action }

type traceView struct {
	Tool       string `json:"tool"`
	ToolCallID string `json:"tool_call_id"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	Input      string `json:"input"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
}

type failedJobView struct {
	UUID      string `json:"uuid"`
	Queue     string `json:"queue"`
	Kind      string `json:"kind"`
	Exception string `json:"exception"`
	FailedAt  string `json:"failed_at"`
}

type backlogView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	AgentID  string `json:"agent_id,omitempty"`
}

func (t *SystemDebuggerTool) Execute(ctx context.Context, tc domain.ToolContext, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.system_debugger", t.logger, tc, params,
		Dispatch(ActionMap[debuggerParams]{
			"traces":      t.handleTraces,
			"failed_jobs": t.handleFailedJobs,
			"backlog":     t.handleBacklog,
		}),
	)
}

func (t *SystemDebuggerTool) handleTraces(ctx context.Context, tc domain.ToolContext, p debuggerParams) (any, error) {
	if t.traces == nil {
		return "Trace history is not available.", nil
	}
	conv := tc.ConversationID
	if p.All {
		conv = ""
	}
	traces, err := t.traces.ListTraces(ctx, conv, limitOr(p.Limit, 10))
	if err != nil {
		return nil, err
	}
	out := make([]traceView, 0, len(traces))
	for _, tr := range traces {
		if p.ErrorsOnly && tr.Status != domain.TraceError {
			continue
		}
		v := traceView{
			Tool:       tr.ToolName,
			ToolCallID: tr.ToolCallID,
			Status:     string(tr.Status),
			Input:      truncate(string(tr.Input), maxDebugOutput),
			Output:     truncate(tr.Output, maxDebugOutput),
			DurationMS: tr.Duration.Milliseconds(),
			StartedAt:  tr.StartedAt.Format(time.RFC3339),
		}
		if tr.Status == domain.TraceError {
			v.Kind = tr.ErrorKind.String()
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return "No matching traces.", nil
	}
	return out, nil
}

func (t *SystemDebuggerTool) handleFailedJobs(ctx context.Context, _ domain.ToolContext, p debuggerParams) (any, error) {
	if t.failed == nil {
		return "Failed job store is not available.", nil
	}
	jobs, err := t.failed.ListFailed(ctx, limitOr(p.Limit, 10))
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return "No failed jobs.", nil
	}
	out := make([]failedJobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, failedJobView{
			UUID:      j.UUID,
			Queue:     j.Queue,
			Kind:      j.Kind,
			Exception: truncate(j.Exception, maxDebugOutput),
			FailedAt:  j.FailedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

func (t *SystemDebuggerTool) handleBacklog(ctx context.Context, _ domain.ToolContext, p debuggerParams) (any, error) {
	if t.backlog == nil {
		return "Backlog is not available.", nil
	}
	items, err := t.backlog.ListItems(ctx, domain.BacklogFilter{
		Statuses: []domain.BacklogStatus{domain.BacklogHold, domain.BacklogTodo, domain.BacklogInProgress},
		Limit:    limitOr(p.Limit, 10),
	})
	if err != nil {
		return nil, err
	}
	out := make([]backlogView, 0, len(items))
	for _, it := range items {
		out = append(out, backlogView{
			ID:       it.ID,
			Title:    it.Title,
			Priority: string(it.Priority),
			Status:   string(it.Status),
			AgentID:  it.AgentID,
		})
	}
	return map[string]any{"open_items": out, "count": len(out)}, nil
}

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
