package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"autopilot/internal/domain"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/infra/tracer"
)

// answeredLookback bounds how far back a retried batch looks for results it
// already wrote.
const answeredLookback = 50

// ToolPipelineDeps holds the pipeline's collaborators.
type ToolPipelineDeps struct {
	Conversations domain.ConversationStore
	Agents        domain.AgentStore
	Traces        domain.TraceStore
	Tools         ToolCatalog
	Queue         domain.JobQueue
	Locker        *ConversationLocker
	Bus           domain.EventBus // optional, nil = no events
	Logger        *slog.Logger
}

// ToolBatch is the set of tool calls requested by one assistant message.
type ToolBatch struct {
	ConversationID string
	Calls          []domain.ToolCall
	StepBudget     int // remaining cycles after this batch
	Depth          int
}

// ToolPipeline executes tool batches in call order. The first failing call
// stops the batch and hands the conversation to inline healing.
type ToolPipeline struct {
	deps ToolPipelineDeps
	now  func() time.Time
}

// NewToolPipeline creates a pipeline.
func NewToolPipeline(deps ToolPipelineDeps) *ToolPipeline {
	if deps.Locker == nil {
		deps.Locker = NewConversationLocker()
	}
	return &ToolPipeline{deps: deps, now: time.Now}
}

// HandleJob runs the batch carried by a tool.batch job.
func (p *ToolPipeline) HandleJob(ctx context.Context, job domain.Job) error {
	var payload domain.ToolBatchPayload
	if err := domain.DecodePayload(job, &payload); err != nil {
		return err
	}
	return p.Execute(ctx, ToolBatch{
		ConversationID: payload.ConversationID,
		Calls:          payload.Calls,
		StepBudget:     payload.StepBudget,
		Depth:          payload.Depth,
	})
}

// callOutcome is the result of one tool call.
type callOutcome struct {
	content string
	failed  bool
	kind    domain.ErrorKind
}

// Execute runs the batch. Tool failures are recorded in the conversation and
// are not returned; only store and queue errors are.
func (p *ToolPipeline) Execute(ctx context.Context, batch ToolBatch) error {
	const op = "ToolPipeline.Execute"

	ctx, span := tracer.StartSpan(ctx, "tool_pipeline.execute",
		trace.WithAttributes(tracer.BatchAttrs(batch.ConversationID, len(batch.Calls), batch.Depth)...))
	defer span.End()

	unlock, err := p.deps.Locker.Lock(ctx, batch.ConversationID)
	if err != nil {
		return domain.NewDomainError(op, err, "conversation lock")
	}
	defer unlock()
	ctx = domain.ContextWithConversationID(ctx, batch.ConversationID)

	conv, err := p.deps.Conversations.GetConversation(ctx, batch.ConversationID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	logger := p.deps.Logger.With("conversation_id", conv.ID)
	if conv.State != domain.StateExecutingTool {
		logger.WarnContext(ctx, "stale tool batch ignored", "state", conv.State, "calls", len(batch.Calls))
		return nil
	}

	agent := p.loadAgent(ctx, conv.AgentID)
	tools := domain.ToolExecutor(p.deps.Tools)
	tc := domain.ToolContext{ConversationID: conv.ID, AgentID: conv.AgentID, Depth: batch.Depth}
	if agent != nil {
		tools = p.deps.Tools.Scoped(agent.Tools)
		tc.AgentName = agent.Name
	}

	prior, err := p.priorResults(ctx, conv.ID)
	if err != nil {
		return domain.WrapOp(op, err)
	}

	for i, call := range batch.Calls {
		if prior.answered[call.ID] {
			// A failure recorded by an earlier attempt still needs healing.
			if t, ok := prior.failed[call.ID]; ok {
				tracer.RecordError(span, domain.ErrToolFailure)
				return p.fail(ctx, conv, batch, i, callOutcome{content: t.Output, failed: true, kind: orToolLogic(t.ErrorKind)}, prior)
			}
			continue
		}
		out, err := p.run(ctx, tools, tc, call)
		if err != nil {
			return domain.WrapOp(op, err)
		}
		if err := p.appendResult(ctx, conv.ID, call, out.content); err != nil {
			return domain.WrapOp(op, err)
		}
		if out.failed {
			tracer.RecordError(span, domain.ErrToolFailure)
			return p.fail(ctx, conv, batch, i, out, prior)
		}
	}

	tracer.SetOK(span)
	if batch.StepBudget <= 0 {
		logger.InfoContext(ctx, "step budget exhausted")
		if err := AppendSystemMessage(ctx, p.deps.Conversations, conv.ID, BudgetExhaustedMessage); err != nil {
			return domain.WrapOp(op, err)
		}
		return MoveState(ctx, p.deps.Conversations, conv, domain.StateDone)
	}

	err = EnqueueReasoning(ctx, p.deps.Queue, domain.ReasoningPayload{
		ConversationID: conv.ID,
		StepBudget:     batch.StepBudget,
	})
	if err != nil {
		return domain.WrapOp(op, err)
	}
	conv.Depth = 0
	return MoveState(ctx, p.deps.Conversations, conv, domain.StateIdle)
}

// fail answers the calls after the failing one, notes the failure and
// queues inline healing one level deeper. Messages an earlier attempt
// already wrote are not written again.
func (p *ToolPipeline) fail(ctx context.Context, conv *domain.Conversation, batch ToolBatch, failedAt int, out callOutcome, prior batchHistory) error {
	const op = "ToolPipeline.Execute"
	failed := batch.Calls[failedAt]

	for _, call := range batch.Calls[failedAt+1:] {
		if prior.answered[call.ID] {
			continue
		}
		if err := p.appendResult(ctx, conv.ID, call, SkippedToolResult); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if note := ToolFailedMessage(failed.Name, out.content); !prior.notes[note] {
		if err := AppendSystemMessage(ctx, p.deps.Conversations, conv.ID, note); err != nil {
			return domain.WrapOp(op, err)
		}
	}

	spec, err := domain.NewJobSpec(domain.QueueAgents, domain.JobHealingInline, domain.HealingPayload{
		ConversationID: conv.ID,
		ToolName:       failed.Name,
		Error:          out.content,
		Kind:           out.kind,
		Depth:          batch.Depth + 1,
		StepBudget:     batch.StepBudget,
	})
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if _, err := p.deps.Queue.Enqueue(ctx, spec); err != nil {
		return domain.WrapOp(op, err)
	}

	p.deps.Logger.Warn("tool call failed, healing queued",
		"conversation_id", conv.ID,
		"tool", failed.Name,
		"kind", out.kind,
		"depth", batch.Depth+1,
		"skipped", len(batch.Calls)-failedAt-1,
	)
	return MoveState(ctx, p.deps.Conversations, conv, domain.StateHealing)
}

// run executes one call inside an open trace.
func (p *ToolPipeline) run(ctx context.Context, tools domain.ToolExecutor, tc domain.ToolContext, call domain.ToolCall) (callOutcome, error) {
	t := &domain.Trace{
		ConversationID: tc.ConversationID,
		AgentID:        tc.AgentID,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Input:          call.Arguments,
		StartedAt:      p.now(),
	}
	if err := p.deps.Traces.OpenTrace(ctx, t); err != nil {
		return callOutcome{}, err
	}
	Publish(ctx, p.deps.Bus, domain.EventToolCallStarted, tc.ConversationID, map[string]string{
		"tool":         call.Name,
		"tool_call_id": call.ID,
	})

	out := p.invoke(ctx, tools, tc, call)

	t.FinishedAt = p.now()
	t.Duration = t.FinishedAt.Sub(t.StartedAt)
	t.Output = out.content
	t.Status = domain.TraceSuccess
	if out.failed {
		t.Status = domain.TraceError
		t.ErrorKind = out.kind
	}
	if err := p.deps.Traces.CloseTrace(ctx, t); err != nil {
		return callOutcome{}, err
	}

	metrics.RecordToolCall(call.Name, !out.failed, t.Duration)
	Publish(ctx, p.deps.Bus, domain.EventToolCallCompleted, tc.ConversationID, map[string]any{
		"tool":         call.Name,
		"tool_call_id": call.ID,
		"success":      !out.failed,
		"kind":         out.kind.String(),
		"duration_ms":  t.Duration.Milliseconds(),
	})
	return out, nil
}

func (p *ToolPipeline) invoke(ctx context.Context, tools domain.ToolExecutor, tc domain.ToolContext, call domain.ToolCall) callOutcome {
	tool, err := tools.Get(call.Name)
	if err != nil {
		return callOutcome{content: err.Error(), failed: true, kind: domain.KindAgentReasoning}
	}
	res, err := tool.Execute(ctx, tc, call.Arguments)
	switch {
	case err != nil:
		return callOutcome{content: err.Error(), failed: true, kind: orToolLogic(domain.KindOf(err))}
	case res == nil:
		return callOutcome{content: "tool returned no result", failed: true, kind: domain.KindToolLogic}
	case res.IsError:
		return callOutcome{content: res.Content, failed: true, kind: orToolLogic(res.Kind)}
	}
	return callOutcome{content: res.Content}
}

func orToolLogic(k domain.ErrorKind) domain.ErrorKind {
	if k == domain.KindUnknown {
		return domain.KindToolLogic
	}
	return k
}

func (p *ToolPipeline) appendResult(ctx context.Context, conversationID string, call domain.ToolCall, content string) error {
	return p.deps.Conversations.AppendMessage(ctx, &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleTool,
		Name:           call.Name,
		ToolCallID:     call.ID,
		Content:        content,
	})
}

// batchHistory is what earlier attempts of a batch left behind.
type batchHistory struct {
	answered map[string]bool         // tool call IDs with a result message
	failed   map[string]domain.Trace // tool call IDs whose trace ended in error
	notes    map[string]bool         // system message contents
}

// priorResults collects the recent results, failures and notes of a
// conversation so a retried batch neither runs a tool twice nor loses a
// failure that still needs healing.
func (p *ToolPipeline) priorResults(ctx context.Context, conversationID string) (batchHistory, error) {
	h := batchHistory{answered: map[string]bool{}, failed: map[string]domain.Trace{}, notes: map[string]bool{}}
	recent, err := p.deps.Conversations.RecentMessages(ctx, conversationID, answeredLookback)
	if err != nil {
		return h, err
	}
	for _, m := range recent {
		switch {
		case m.Role == domain.RoleTool && m.ToolCallID != "":
			h.answered[m.ToolCallID] = true
		case m.Role == domain.RoleSystem:
			h.notes[m.Content] = true
		}
	}
	if len(h.answered) == 0 || p.deps.Traces == nil {
		return h, nil
	}
	traces, err := p.deps.Traces.ListTraces(ctx, conversationID, answeredLookback)
	if err != nil {
		return h, err
	}
	for _, t := range traces {
		if t.Status == domain.TraceError && h.answered[t.ToolCallID] {
			h.failed[t.ToolCallID] = t
		}
	}
	return h, nil
}

func (p *ToolPipeline) loadAgent(ctx context.Context, agentID string) *domain.Agent {
	if agentID == "" || p.deps.Agents == nil {
		return nil
	}
	agent, err := p.deps.Agents.GetAgent(ctx, agentID)
	if err != nil {
		p.deps.Logger.Warn("agent lookup failed", "agent_id", agentID, "error", err)
		return nil
	}
	return agent
}
