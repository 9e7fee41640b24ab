package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"autopilot/internal/domain"
)

const maxTitleRunes = 60

// SubmitRequest is a user message for a new or existing conversation.
type SubmitRequest struct {
	// ConversationID continues an existing conversation; empty starts one.
	ConversationID string
	// AgentID or AgentName select the agent of a new conversation.
	AgentID    string
	AgentName  string
	Title      string
	Content    string
	Images     []domain.Image
	Metadata   map[string]string
	StepBudget int
}

// Inbox is the entry point for work coming from outside the loop: it
// records a user message and queues a reasoning cycle for it.
type Inbox struct {
	conversations domain.ConversationStore
	agents        domain.AgentStore
	queue         domain.JobQueue
	bus           domain.EventBus
	logger        *slog.Logger
}

// NewInbox creates an inbox. bus may be nil.
func NewInbox(conversations domain.ConversationStore, agents domain.AgentStore, queue domain.JobQueue, bus domain.EventBus, logger *slog.Logger) *Inbox {
	return &Inbox{conversations: conversations, agents: agents, queue: queue, bus: bus, logger: logger}
}

// Submit appends the message and enqueues a cycle. It returns the
// conversation the message landed in.
func (in *Inbox) Submit(ctx context.Context, req SubmitRequest) (*domain.Conversation, error) {
	const op = "Inbox.Submit"
	if strings.TrimSpace(req.Content) == "" && len(req.Images) == 0 {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "empty message")
	}

	conv, err := in.conversation(ctx, req)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        req.Content,
		Images:         req.Images,
	}
	if err := in.conversations.AppendMessage(ctx, msg); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	Publish(ctx, in.bus, domain.EventMessageAppended, conv.ID, map[string]string{
		"message_id": msg.ID,
		"role":       msg.Role,
	})

	err = EnqueueReasoning(ctx, in.queue, domain.ReasoningPayload{ConversationID: conv.ID, StepBudget: req.StepBudget})
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	in.logger.Debug("message submitted", "conversation_id", conv.ID, "agent_id", conv.AgentID)
	return conv, nil
}

func (in *Inbox) conversation(ctx context.Context, req SubmitRequest) (*domain.Conversation, error) {
	if req.ConversationID != "" {
		return in.conversations.GetConversation(ctx, req.ConversationID)
	}

	agentID := req.AgentID
	if agentID == "" && req.AgentName != "" {
		agent, err := in.agents.GetAgentByName(ctx, req.AgentName)
		if err != nil {
			return nil, err
		}
		agentID = agent.ID
	}

	title := req.Title
	if title == "" {
		title = Headline(req.Content, maxTitleRunes)
	}
	conv := &domain.Conversation{
		AgentID:  agentID,
		Title:    title,
		Metadata: req.Metadata,
	}
	if err := in.conversations.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Headline returns the first line of s cut to n runes.
func Headline(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
