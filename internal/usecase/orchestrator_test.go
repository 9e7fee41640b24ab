package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/adapter/store"
	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

type harness struct {
	db       *store.DB
	llm      *mockLLM
	queue    *fakeQueue
	bus      *recordingBus
	catalog  *fakeCatalog
	cache    *InferenceCache
	orch     *Orchestrator
	pipeline *ToolPipeline
	inbox    *Inbox
}

func newHarness(t *testing.T, llm *mockLLM, catalog *fakeCatalog) *harness {
	t.Helper()
	db := newTestDB(t)
	h := &harness{db: db, llm: llm, queue: &fakeQueue{}, bus: &recordingBus{}, catalog: catalog}

	agentCfg := config.Defaults().Agent
	locker := NewConversationLocker()
	h.cache = NewInferenceCache(db, agentCfg.Cache, testLogger())
	compressor := NewCompressor(db, llm, "gpt-4", agentCfg.Compression, h.bus, testLogger())
	builder := NewContextBuilder(db, db, db, agentCfg, config.LocaleConfig{}, nil, testLogger())

	h.orch = NewOrchestrator(OrchestratorDeps{
		Conversations:  db,
		Agents:         db,
		Learner:        db,
		LLM:            llm,
		Tools:          catalog,
		Queue:          h.queue,
		ContextBuilder: builder,
		Compressor:     compressor,
		Cache:          h.cache,
		Router:         NewModelRouter(config.LLMConfig{}),
		Locker:         locker,
		Bus:            h.bus,
		Logger:         testLogger(),
		StepBudget:     5,
		StallAfter:     10 * time.Minute,
	})
	h.pipeline = NewToolPipeline(ToolPipelineDeps{
		Conversations: db,
		Agents:        db,
		Traces:        db,
		Tools:         catalog,
		Queue:         h.queue,
		Locker:        locker,
		Bus:           h.bus,
		Logger:        testLogger(),
	})
	h.inbox = NewInbox(db, db, h.queue, h.bus, testLogger())
	return h
}

func (h *harness) ask(t *testing.T, agentID, content string) *domain.Conversation {
	t.Helper()
	conv, err := h.inbox.Submit(context.Background(), SubmitRequest{AgentID: agentID, Content: content})
	require.NoError(t, err)
	job := h.queue.pop(t)
	require.Equal(t, domain.JobReasoningCycle, job.Kind)
	return conv
}

func TestRunCycleFinalAnswer(t *testing.T) {
	h := newHarness(t, &mockLLM{script: []mockReply{replyText("Hello! How can I help?")}}, newCatalog())
	agent := seedAgent(t, h.db, "Manager")
	conv := h.ask(t, agent.ID, "hi there")

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	got := conversation(t, h.db, conv.ID)
	assert.Equal(t, domain.StateDone, got.State)
	last := lastMessage(t, h.db, conv.ID)
	assert.Equal(t, domain.RoleAssistant, last.Role)
	assert.Equal(t, "Hello! How can I help?", last.Content)
	assert.Empty(t, h.queue.kinds())

	n, err := h.db.CountLearningExamples(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, h.bus.types(), domain.EventCycleStarted)
	assert.Contains(t, h.bus.types(), domain.EventCycleCompleted)

	// The fast model serves short, simple questions.
	assert.Equal(t, "llama3.2", h.llm.request(0).Model)
}

func TestRunCycleServesRepeatQuestionsFromCache(t *testing.T) {
	h := newHarness(t, &mockLLM{script: []mockReply{replyText("Paris.")}}, newCatalog())
	agent := seedAgent(t, h.db, "Manager")

	first := h.ask(t, agent.ID, "What is the capital of France?")
	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: first.ID}))

	second := h.ask(t, agent.ID, "  what is the CAPITAL of france  ")
	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: second.ID}))

	assert.Equal(t, 1, h.llm.calls())
	assert.Equal(t, "Paris.", lastMessage(t, h.db, second.ID).Content)
	assert.Equal(t, domain.StateDone, conversation(t, h.db, second.ID).State)
	assert.Contains(t, h.bus.types(), domain.EventCacheHit)
}

func TestRunCycleImagesBypassCache(t *testing.T) {
	h := newHarness(t, &mockLLM{script: []mockReply{replyText("a cat"), replyText("a dog")}}, newCatalog())
	h.cache.Store(context.Background(), "what is this", "cached answer", "gpt-4")

	conv, err := h.inbox.Submit(context.Background(), SubmitRequest{
		Content: "what is this",
		Images:  []domain.Image{{MimeType: "image/png", Data: "iVBORw0KGgo="}},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	assert.Equal(t, 1, h.llm.calls())
	assert.Equal(t, "a cat", lastMessage(t, h.db, conv.ID).Content)
	req := h.llm.request(0)
	last := req.Messages[len(req.Messages)-1]
	require.Len(t, last.Images, 1)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", last.Images[0].DataURI())
}

func TestRunCycleToolCallsQueueOneBatch(t *testing.T) {
	calls := []domain.ToolCall{
		{ID: "call_1", Name: "kanban", Arguments: json.RawMessage(`{"action":"list"}`)},
		{Name: "kanban", Arguments: json.RawMessage(`{"action":"create","title":"x"}`)},
	}
	h := newHarness(t, &mockLLM{script: []mockReply{replyCalls(calls...)}}, newCatalog(okTool("kanban", "ok")))
	agent := seedAgent(t, h.db, "Manager")
	conv := h.ask(t, agent.ID, "show the board")

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID, StepBudget: 3, Depth: 1}))

	assert.Equal(t, domain.StateExecutingTool, conversation(t, h.db, conv.ID).State)
	last := lastMessage(t, h.db, conv.ID)
	require.Len(t, last.ToolCalls, 2)
	assert.NotEmpty(t, last.ToolCalls[1].ID, "missing call IDs are filled in")

	job := h.queue.pop(t)
	assert.Equal(t, domain.JobToolBatch, job.Kind)
	assert.Equal(t, domain.QueueTools, job.Queue)
	p := decode[domain.ToolBatchPayload](t, job)
	assert.Equal(t, 2, p.StepBudget)
	assert.Equal(t, 1, p.Depth)
	assert.Equal(t, last.ToolCalls, p.Calls)
}

func TestRunCycleModelFailureEndsTurn(t *testing.T) {
	h := newHarness(t, &mockLLM{script: []mockReply{replyErr(fmt.Errorf("%w: API error 401: bad key", domain.ErrAuthInvalid))}}, newCatalog())
	conv := h.ask(t, "", "hello")

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	assert.Equal(t, domain.StateDone, conversation(t, h.db, conv.ID).State)
	last := lastMessage(t, h.db, conv.ID)
	assert.Equal(t, domain.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "Model call failed: ")
	assert.Empty(t, h.queue.kinds())
	assert.Contains(t, h.bus.types(), domain.EventModelCallFailed)
}

func TestRunCycleOverflowCompressesAndRetries(t *testing.T) {
	overflow := fmt.Errorf("%w: API error 400: maximum context length exceeded", domain.ErrContextOverflow)
	h := newHarness(t, &mockLLM{script: []mockReply{
		replyErr(overflow),
		replyText("Earlier the user shared twelve notes."),
		replyText("Done."),
	}}, newCatalog())
	conv := seedConversation(t, h.db, "")
	appendMessages(t, h.db, conv.ID, 12)
	appendMessage(t, h.db, domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "summarize please"})

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	require.Equal(t, 3, h.llm.calls())
	assert.Equal(t, "Done.", lastMessage(t, h.db, conv.ID).Content)
	assert.Equal(t, "Earlier the user shared twelve notes.", conversation(t, h.db, conv.ID).Summary)
	retry := h.llm.request(2)
	assert.Equal(t, "Summary of earlier conversation: Earlier the user shared twelve notes.", retry.Messages[0].Content)
}

func TestRunCycleStalledConversationResumes(t *testing.T) {
	h := newHarness(t, &mockLLM{script: []mockReply{replyText("back on it")}}, newCatalog())
	conv := &domain.Conversation{
		Title:      "stuck",
		State:      domain.StateExecutingTool,
		LastPingAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, h.db.CreateConversation(context.Background(), conv))
	appendMessage(t, h.db, domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "status?"})

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	msgs := messages(t, h.db, conv.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, StalledMessage, msgs[1].Content)
	assert.Equal(t, domain.StateDone, conversation(t, h.db, conv.ID).State)
}

func TestRunCycleSkipsBusyConversation(t *testing.T) {
	h := newHarness(t, &mockLLM{}, newCatalog())
	conv := &domain.Conversation{Title: "busy", State: domain.StateExecutingTool}
	require.NoError(t, h.db.CreateConversation(context.Background(), conv))

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))
	assert.Zero(t, h.llm.calls())
	assert.Equal(t, domain.StateExecutingTool, conversation(t, h.db, conv.ID).State)
}

func TestRunCycleScopesToolsAndHonoursAgentModel(t *testing.T) {
	h := newHarness(t, &mockLLM{}, newCatalog(okTool("kanban", ""), okTool("system_debugger", "")))
	agent := &domain.Agent{ID: "agent-auditor", Name: "Auditor", Persona: "You audit.", Model: "auditor-model", Tools: []string{"kanban"}}
	require.NoError(t, h.db.SaveAgent(context.Background(), agent))
	conv := h.ask(t, agent.ID, "check the login form")

	require.NoError(t, h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: conv.ID}))

	req := h.llm.request(0)
	assert.Equal(t, "auditor-model", req.Model)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "kanban", req.Tools[0].Name)
}

func TestRunCycleMissingConversation(t *testing.T) {
	h := newHarness(t, &mockLLM{}, newCatalog())
	err := h.orch.RunCycle(context.Background(), CycleRequest{ConversationID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrConversationNotFound))
}

func TestOrchestratorHandleJobRejectsBadPayload(t *testing.T) {
	h := newHarness(t, &mockLLM{}, newCatalog())
	err := h.orch.HandleJob(context.Background(), domain.Job{Kind: domain.JobReasoningCycle, Payload: json.RawMessage(`{"conversation_id":`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
