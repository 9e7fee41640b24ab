package usecase

import (
	"context"
	"fmt"

	"autopilot/internal/domain"
)

// Messages the loop writes into conversations.
const (
	StalledMessage         = "Session was stalled; resuming."
	BudgetExhaustedMessage = "Step budget exhausted; stopping."
	SkippedToolResult      = "skipped: an earlier tool call in this batch failed"
)

// ModelFailedMessage is appended when a completion request fails.
func ModelFailedMessage(err error) string {
	return fmt.Sprintf("Model call failed: %v", err)
}

// ToolFailedMessage is appended when a tool call fails.
func ToolFailedMessage(tool string, err string) string {
	return fmt.Sprintf("Tool '%s' failed: %s", tool, err)
}

// AppendSystemMessage stores a system-role note in the conversation.
func AppendSystemMessage(ctx context.Context, store domain.ConversationStore, conversationID, content string) error {
	return store.AppendMessage(ctx, &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleSystem,
		Content:        content,
	})
}

// MoveState validates and persists a cycle state change.
func MoveState(ctx context.Context, store domain.ConversationStore, conv *domain.Conversation, next domain.CycleState) error {
	state, err := conv.State.Transition(next)
	if err != nil {
		return domain.NewDomainError("MoveState", err, conv.ID)
	}
	conv.State = state
	return store.UpdateConversation(ctx, conv)
}

// EnqueueReasoning schedules the next orchestrator cycle on the agents queue.
func EnqueueReasoning(ctx context.Context, q domain.JobQueue, p domain.ReasoningPayload) error {
	spec, err := domain.NewJobSpec(domain.QueueAgents, domain.JobReasoningCycle, p)
	if err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, spec); err != nil {
		return domain.WrapOp("EnqueueReasoning", err)
	}
	return nil
}
