package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"autopilot/internal/adapter/store"
	"autopilot/internal/domain"
	"autopilot/internal/infra/logger"
)

// --- Mocks ---

// mockReply is one scripted provider answer.
type mockReply struct {
	resp domain.ChatResponse
	err  error
}

// mockLLM replays scripted replies in order and records every request.
// Once the script runs out it answers "fallback".
type mockLLM struct {
	mu       sync.Mutex
	script   []mockReply
	requests []domain.ChatRequest
}

func replyText(content string) mockReply {
	return mockReply{resp: domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: content}}}
}

func replyCalls(calls ...domain.ToolCall) mockReply {
	return mockReply{resp: domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls}}}
}

func replyErr(err error) mockReply { return mockReply{err: err} }

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.script) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	r := m.script[idx]
	if r.err != nil {
		return nil, r.err
	}
	resp := r.resp
	return &resp, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) request(i int) domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// fakeQueue records enqueued jobs instead of running them.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []domain.JobSpec
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, spec domain.JobSpec) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, spec)
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.Kind
	}
	return out
}

// pop removes and returns the oldest recorded job.
func (q *fakeQueue) pop(t *testing.T) domain.Job {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.jobs, "no job enqueued")
	spec := q.jobs[0]
	q.jobs = q.jobs[1:]
	return domain.Job{UUID: "test", Queue: spec.Queue, Kind: spec.Kind, Payload: spec.Payload}
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()               { return func() {} }
func (b *recordingBus) Close()                                                {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// --- Fixtures ---

func testLogger() *slog.Logger { return logger.Discard() }

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "usecase.db"), store.Options{
		BusyRetries: 3,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAgent(t *testing.T, db *store.DB, name string, tools ...string) *domain.Agent {
	t.Helper()
	a := &domain.Agent{ID: "agent-" + name, Name: name, Persona: "You are " + name + ".", Tools: tools}
	require.NoError(t, db.SaveAgent(context.Background(), a))
	return a
}

func seedConversation(t *testing.T, db *store.DB, agentID string) *domain.Conversation {
	t.Helper()
	c := &domain.Conversation{AgentID: agentID, Title: "test"}
	require.NoError(t, db.CreateConversation(context.Background(), c))
	return c
}

func appendMessages(t *testing.T, db *store.DB, convID string, n int) {
	t.Helper()
	for i := range n {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, db.AppendMessage(context.Background(), &domain.Message{
			ConversationID: convID,
			Role:           role,
			Content:        fmt.Sprintf("msg %d", i),
		}))
	}
}

func appendMessage(t *testing.T, db *store.DB, m domain.Message) {
	t.Helper()
	require.NoError(t, db.AppendMessage(context.Background(), &m))
}

func messages(t *testing.T, db *store.DB, convID string) []domain.Message {
	t.Helper()
	msgs, err := db.Messages(context.Background(), convID)
	require.NoError(t, err)
	return msgs
}

func conversation(t *testing.T, db *store.DB, convID string) *domain.Conversation {
	t.Helper()
	c, err := db.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	return c
}

func lastMessage(t *testing.T, db *store.DB, convID string) domain.Message {
	t.Helper()
	msgs := messages(t, db, convID)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

// funcTool runs fn for every call and counts invocations.
type funcTool struct {
	name  string
	fn    func(tc domain.ToolContext, args json.RawMessage) (*domain.ToolResult, error)
	mu    sync.Mutex
	calls int
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return "test tool " + f.name }
func (f *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Description: f.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (f *funcTool) Execute(_ context.Context, tc domain.ToolContext, args json.RawMessage) (*domain.ToolResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(tc, args)
}

func (f *funcTool) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okTool(name, content string) *funcTool {
	return &funcTool{name: name, fn: func(domain.ToolContext, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: content}, nil
	}}
}

func failingTool(name string, kind domain.ErrorKind, msg string) *funcTool {
	return &funcTool{name: name, fn: func(domain.ToolContext, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: msg, IsError: true, Kind: kind}, nil
	}}
}

// fakeCatalog is an in-memory ToolCatalog.
type fakeCatalog struct {
	tools map[string]domain.Tool
}

func newCatalog(tools ...domain.Tool) *fakeCatalog {
	c := &fakeCatalog{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		c.tools[t.Name()] = t
	}
	return c
}

func (c *fakeCatalog) Get(name string) (domain.Tool, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, domain.NewDomainError("fakeCatalog.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (c *fakeCatalog) Schemas() []domain.ToolSchema {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.ToolSchema, len(names))
	for i, name := range names {
		out[i] = c.tools[name].Schema()
	}
	return out
}

func (c *fakeCatalog) Scoped(allowed []string) domain.ToolExecutor {
	if len(allowed) == 0 {
		return c
	}
	scoped := newCatalog()
	for _, name := range allowed {
		if t, ok := c.tools[name]; ok {
			scoped.tools[name] = t
		}
	}
	return scoped
}

// decode unmarshals a recorded job payload.
func decode[T any](t *testing.T, job domain.Job) T {
	t.Helper()
	var v T
	require.NoError(t, domain.DecodePayload(job, &v))
	return v
}
