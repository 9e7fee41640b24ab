package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"autopilot/internal/domain"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/infra/tracer"
)

// ToolCatalog is a tool executor that can be narrowed to an agent's
// permitted tools.
type ToolCatalog interface {
	domain.ToolExecutor
	Scoped(allowed []string) domain.ToolExecutor
}

// OrchestratorDeps holds the orchestrator's collaborators.
type OrchestratorDeps struct {
	Conversations  domain.ConversationStore
	Agents         domain.AgentStore
	Learner        domain.LearningCollector // optional, nil = no capture
	LLM            domain.LLMProvider
	Tools          ToolCatalog
	Queue          domain.JobQueue
	ContextBuilder *ContextBuilder
	Compressor     *Compressor     // optional, nil = no compression
	Cache          *InferenceCache // optional, nil = no cache
	Router         *ModelRouter
	Classifier     *ErrorClassifier
	Locker         *ConversationLocker
	Bus            domain.EventBus // optional, nil = no events
	Logger         *slog.Logger
	StepBudget     int
	StallAfter     time.Duration
}

// CycleRequest asks for one reasoning step of a conversation.
type CycleRequest struct {
	ConversationID string
	StepBudget     int // 0 uses the agent's or the configured budget
	Depth          int
}

// Orchestrator runs single reasoning cycles. Each cycle either ends the
// conversation turn or hands tool calls to the tool pipeline through the
// queue; it never loops in-process.
type Orchestrator struct {
	deps OrchestratorDeps
	now  func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.StepBudget <= 0 {
		deps.StepBudget = 10
	}
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier()
	}
	if deps.Locker == nil {
		deps.Locker = NewConversationLocker()
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// HandleJob runs the cycle described by a reasoning.cycle job.
func (o *Orchestrator) HandleJob(ctx context.Context, job domain.Job) error {
	var p domain.ReasoningPayload
	if err := domain.DecodePayload(job, &p); err != nil {
		return err
	}
	return o.RunCycle(ctx, CycleRequest{ConversationID: p.ConversationID, StepBudget: p.StepBudget, Depth: p.Depth})
}

// RunCycle performs one step of the loop. Model failures end the turn with a
// system message and return nil; store and queue failures are returned so
// the job is retried.
func (o *Orchestrator) RunCycle(ctx context.Context, req CycleRequest) error {
	const op = "Orchestrator.RunCycle"

	ctx, span := tracer.StartSpan(ctx, "orchestrator.run_cycle",
		trace.WithAttributes(tracer.CycleAttrs(req.ConversationID, req.Depth, req.StepBudget)...))
	defer span.End()

	unlock, err := o.deps.Locker.Lock(ctx, req.ConversationID)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.NewDomainError(op, err, "conversation lock")
	}
	defer unlock()
	ctx = domain.ContextWithConversationID(ctx, req.ConversationID)

	conv, err := o.deps.Conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp(op, err)
	}
	logger := o.deps.Logger.With("conversation_id", conv.ID)

	now := o.now()
	stalled := o.deps.StallAfter > 0 && !conv.LastPingAt.IsZero() && now.Sub(conv.LastPingAt) > o.deps.StallAfter
	if !conv.State.CanTransition(domain.StateAwaitingModel) {
		if !stalled {
			// A pending tool or healing job will start the next cycle.
			logger.DebugContext(ctx, "cycle skipped, conversation busy", "state", conv.State)
			return nil
		}
		logger.WarnContext(ctx, "recovering stalled conversation", "state", conv.State, "last_ping_at", conv.LastPingAt)
		conv.State = domain.StateIdle
	}
	if stalled {
		if err := AppendSystemMessage(ctx, o.deps.Conversations, conv.ID, StalledMessage); err != nil {
			return domain.WrapOp(op, err)
		}
	}

	if o.deps.Compressor != nil {
		changed, err := o.deps.Compressor.Compress(ctx, conv.ID)
		if err != nil {
			return domain.WrapOp(op, err)
		}
		if changed {
			state := conv.State
			if conv, err = o.deps.Conversations.GetConversation(ctx, conv.ID); err != nil {
				return domain.WrapOp(op, err)
			}
			conv.State = state
		}
	}

	conv.LastPingAt = now
	conv.Depth = req.Depth
	if err := MoveState(ctx, o.deps.Conversations, conv, domain.StateAwaitingModel); err != nil {
		return domain.WrapOp(op, err)
	}

	agent := o.loadAgent(ctx, conv.AgentID)
	budget := req.StepBudget
	if budget <= 0 {
		budget = o.deps.StepBudget
		if agent != nil && agent.StepBudget > 0 {
			budget = agent.StepBudget
		}
	}
	span.SetAttributes(tracer.ConversationAttrs(conv.ID, conv.AgentID)...)
	Publish(ctx, o.deps.Bus, domain.EventCycleStarted, conv.ID, map[string]int{"depth": req.Depth, "step_budget": budget})

	prompt, err := o.deps.ContextBuilder.Build(ctx, conv, agent)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	query, cacheable := latestQuery(prompt)

	if cacheable && o.deps.Cache != nil {
		if hit, ok := o.deps.Cache.Lookup(ctx, query); ok {
			logger.InfoContext(ctx, "inference cache hit", "hits", hit.Hits)
			Publish(ctx, o.deps.Bus, domain.EventCacheHit, conv.ID, map[string]string{"hash": hit.Hash})
			return o.finish(ctx, conv, domain.Message{Role: domain.RoleAssistant, Content: hit.Response}, "cache")
		}
	}

	model := o.deps.Router.Select(agent, query)
	tools := domain.ToolExecutor(o.deps.Tools)
	if agent != nil {
		tools = o.deps.Tools.Scoped(agent.Tools)
	}

	resp, err := o.chat(ctx, conv, agent, model, prompt, tools.Schemas())
	if err != nil {
		metrics.RecordModelCall(model, false)
		tracer.RecordError(span, err)
		classified := o.deps.Classifier.Classify(err)
		logger.ErrorContext(ctx, "model call failed", "model", model, "category", classified.Category, "error", err)
		Publish(ctx, o.deps.Bus, domain.EventModelCallFailed, conv.ID, map[string]string{
			"model": model,
			"error": err.Error(),
		})
		if err := AppendSystemMessage(ctx, o.deps.Conversations, conv.ID, ModelFailedMessage(err)); err != nil {
			return domain.WrapOp(op, err)
		}
		return MoveState(ctx, o.deps.Conversations, conv, domain.StateDone)
	}
	metrics.RecordModelCall(model, true)

	msg := resp.Message
	msg.ID, msg.Role, msg.ConversationID, msg.CreatedAt = "", domain.RoleAssistant, conv.ID, time.Time{}

	if len(msg.ToolCalls) > 0 {
		if err := o.dispatchTools(ctx, conv, msg, budget-1, req.Depth); err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}
		logger.DebugContext(ctx, "tool calls dispatched", "count", len(msg.ToolCalls), "model", model)
		tracer.SetOK(span)
		return nil
	}

	if cacheable && o.deps.Cache != nil {
		o.deps.Cache.Store(ctx, query, msg.Content, model)
	}
	if o.deps.Learner != nil && query != "" && msg.Content != "" {
		err := o.deps.Learner.Capture(ctx, domain.LearningExample{
			AgentID:        conv.AgentID,
			ConversationID: conv.ID,
			Input:          query,
			Output:         msg.Content,
		})
		if err != nil {
			logger.WarnContext(ctx, "learning capture failed", "error", err)
		}
	}
	tracer.SetOK(span)
	return o.finish(ctx, conv, msg, model)
}

// chat calls the model, compacting the conversation and retrying once when
// the prompt overflows the context window.
func (o *Orchestrator) chat(ctx context.Context, conv *domain.Conversation, agent *domain.Agent, model string, prompt []domain.Message, schemas []domain.ToolSchema) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{Model: model, Messages: prompt, Tools: schemas}
	resp, err := o.deps.LLM.Chat(ctx, req)
	if err == nil || o.deps.Compressor == nil || !o.deps.Classifier.Classify(err).Overflow() {
		return resp, err
	}

	o.deps.Logger.Warn("context overflow, compressing and retrying", "conversation_id", conv.ID, "error", err)
	changed, cerr := o.deps.Compressor.ForceCompress(ctx, conv.ID)
	if cerr != nil || !changed {
		return nil, err
	}
	fresh, gerr := o.deps.Conversations.GetConversation(ctx, conv.ID)
	if gerr != nil {
		return nil, err
	}
	conv.Summary = fresh.Summary
	if req.Messages, gerr = o.deps.ContextBuilder.Build(ctx, conv, agent); gerr != nil {
		return nil, err
	}
	return o.deps.LLM.Chat(ctx, req)
}

// dispatchTools persists the assistant's tool calls and queues them as one batch.
func (o *Orchestrator) dispatchTools(ctx context.Context, conv *domain.Conversation, msg domain.Message, budget, depth int) error {
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + domain.NewID()
		}
	}
	if err := o.deps.Conversations.AppendMessage(ctx, &msg); err != nil {
		return err
	}
	spec, err := domain.NewJobSpec(domain.QueueTools, domain.JobToolBatch, domain.ToolBatchPayload{
		ConversationID: conv.ID,
		Calls:          msg.ToolCalls,
		StepBudget:     budget,
		Depth:          depth,
	})
	if err != nil {
		return err
	}
	if _, err := o.deps.Queue.Enqueue(ctx, spec); err != nil {
		return err
	}
	if err := MoveState(ctx, o.deps.Conversations, conv, domain.StateExecutingTool); err != nil {
		return err
	}
	Publish(ctx, o.deps.Bus, domain.EventCycleCompleted, conv.ID, map[string]any{
		"outcome":    "tool_calls",
		"tool_calls": len(msg.ToolCalls),
	})
	return nil
}

// finish persists a final answer and closes the turn.
func (o *Orchestrator) finish(ctx context.Context, conv *domain.Conversation, msg domain.Message, source string) error {
	msg.ConversationID = conv.ID
	if err := o.deps.Conversations.AppendMessage(ctx, &msg); err != nil {
		return err
	}
	Publish(ctx, o.deps.Bus, domain.EventMessageAppended, conv.ID, map[string]string{
		"message_id": msg.ID,
		"role":       msg.Role,
	})
	if err := MoveState(ctx, o.deps.Conversations, conv, domain.StateDone); err != nil {
		return err
	}
	Publish(ctx, o.deps.Bus, domain.EventCycleCompleted, conv.ID, map[string]string{
		"outcome": "final",
		"source":  source,
	})
	return nil
}

// loadAgent returns the conversation's agent, or nil when it has none or it
// cannot be found.
func (o *Orchestrator) loadAgent(ctx context.Context, agentID string) *domain.Agent {
	if agentID == "" || o.deps.Agents == nil {
		return nil
	}
	agent, err := o.deps.Agents.GetAgent(ctx, agentID)
	if err != nil {
		if !errors.Is(err, domain.ErrAgentNotFound) {
			o.deps.Logger.Warn("agent lookup failed", "agent_id", agentID, "error", err)
		}
		return nil
	}
	return agent
}

// latestQuery returns the newest user message text and whether the prompt
// is eligible for the inference cache: it must end on that user message and
// the message must carry no images.
func latestQuery(prompt []domain.Message) (string, bool) {
	for i := len(prompt) - 1; i >= 0; i-- {
		m := prompt[i]
		if m.Role != domain.RoleUser {
			continue
		}
		return m.Content, i == len(prompt)-1 && !m.HasImages() && m.Content != ""
	}
	return "", false
}
