package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

func testCompression() config.CompressionConfig {
	return config.CompressionConfig{Enabled: true, Threshold: 20, KeepTail: 10, MaxSummaryChars: 6000}
}

func TestCompressBelowThresholdIsNoop(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 20)
	llm := &mockLLM{}

	c := NewCompressor(db, llm, "gpt-4", testCompression(), nil, testLogger())
	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, messages(t, db, conv.ID), 20)
	assert.Zero(t, llm.calls())
}

func TestCompressDisabled(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 30)

	cfg := testCompression()
	cfg.Enabled = false
	c := NewCompressor(db, &mockLLM{}, "gpt-4", cfg, nil, testLogger())
	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, messages(t, db, conv.ID), 30)
}

func TestCompressSummarizesHeadAndKeepsTail(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 25)
	llm := &mockLLM{script: []mockReply{replyText("The team fixed the login bug.")}}
	bus := &recordingBus{}

	c := NewCompressor(db, llm, "gpt-4", testCompression(), bus, testLogger())
	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	msgs := messages(t, db, conv.ID)
	require.Len(t, msgs, 10)
	assert.Equal(t, "msg 15", msgs[0].Content)
	assert.Equal(t, "msg 24", msgs[9].Content)
	assert.Equal(t, "The team fixed the login bug.", conversation(t, db, conv.ID).Summary)

	req := llm.request(0)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "USER: msg 0\n")
	assert.Contains(t, req.Messages[1].Content, "ASSISTANT: msg 14\n")
	assert.NotContains(t, req.Messages[1].Content, "msg 15")
	assert.Equal(t, []domain.EventType{domain.EventCompressed}, bus.types())
}

func TestCompressIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 25)
	llm := &mockLLM{script: []mockReply{replyText("summary")}}

	c := NewCompressor(db, llm, "gpt-4", testCompression(), nil, testLogger())
	_, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)

	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, llm.calls())
	assert.Len(t, messages(t, db, conv.ID), 10)
}

func TestCompressMergesPreviousSummary(t *testing.T) {
	db := newTestDB(t)
	conv := &domain.Conversation{Title: "merge", Summary: "Old facts."}
	require.NoError(t, db.CreateConversation(context.Background(), conv))
	appendMessages(t, db, conv.ID, 21)

	c := NewCompressor(db, &mockLLM{script: []mockReply{replyText("New facts.")}}, "gpt-4", testCompression(), nil, testLogger())
	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "PREVIOUS SUMMARY: Old facts.\n\nNEW CONTEXT: New facts.", conversation(t, db, conv.ID).Summary)
}

func TestCompressFailureLeavesConversationIntact(t *testing.T) {
	tests := []struct {
		name  string
		reply mockReply
	}{
		{"provider error", replyErr(errors.New("API error 500: boom"))},
		{"empty summary", replyText("   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			conv := seedConversation(t, db, "")
			appendMessages(t, db, conv.ID, 25)

			c := NewCompressor(db, &mockLLM{script: []mockReply{tt.reply}}, "gpt-4", testCompression(), nil, testLogger())
			changed, err := c.Compress(context.Background(), conv.ID)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Len(t, messages(t, db, conv.ID), 25)
			assert.Empty(t, conversation(t, db, conv.ID).Summary)
		})
	}
}

func TestCompressCapsSummary(t *testing.T) {
	long := strings.Repeat("x", 80)

	t.Run("condensed", func(t *testing.T) {
		db := newTestDB(t)
		conv := seedConversation(t, db, "")
		appendMessages(t, db, conv.ID, 25)
		cfg := testCompression()
		cfg.MaxSummaryChars = 50
		llm := &mockLLM{script: []mockReply{replyText(long), replyText("short digest")}}

		c := NewCompressor(db, llm, "gpt-4", cfg, nil, testLogger())
		_, err := c.Compress(context.Background(), conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "short digest", conversation(t, db, conv.ID).Summary)
		assert.Equal(t, 2, llm.calls())
	})

	t.Run("truncated when condensing fails", func(t *testing.T) {
		db := newTestDB(t)
		conv := seedConversation(t, db, "")
		appendMessages(t, db, conv.ID, 25)
		cfg := testCompression()
		cfg.MaxSummaryChars = 50
		llm := &mockLLM{script: []mockReply{replyText(long + "END"), replyErr(errors.New("timeout"))}}

		c := NewCompressor(db, llm, "gpt-4", cfg, nil, testLogger())
		changed, err := c.Compress(context.Background(), conv.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		summary := conversation(t, db, conv.ID).Summary
		assert.Len(t, summary, 50)
		assert.True(t, strings.HasSuffix(summary, "END"))
	})
}

func TestCompressTailNeverStartsWithToolResult(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 14)
	appendMessage(t, db, domain.Message{ConversationID: conv.ID, Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{ID: "c1", Name: "kanban"}, {ID: "c2", Name: "kanban"}}})
	appendMessage(t, db, domain.Message{ConversationID: conv.ID, Role: domain.RoleTool, ToolCallID: "c1", Content: "ok"})
	appendMessage(t, db, domain.Message{ConversationID: conv.ID, Role: domain.RoleTool, ToolCallID: "c2", Content: "ok"})
	appendMessages(t, db, conv.ID, 8)
	// 25 messages; a plain cut at 15 would start the tail on the second tool result.

	c := NewCompressor(db, &mockLLM{script: []mockReply{replyText("s")}}, "gpt-4", testCompression(), nil, testLogger())
	changed, err := c.Compress(context.Background(), conv.ID)
	require.NoError(t, err)
	require.True(t, changed)

	msgs := messages(t, db, conv.ID)
	require.Len(t, msgs, 11)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Len(t, msgs[0].ToolCalls, 2)
}

func TestForceCompressIgnoresThreshold(t *testing.T) {
	db := newTestDB(t)
	conv := seedConversation(t, db, "")
	appendMessages(t, db, conv.ID, 12)

	c := NewCompressor(db, &mockLLM{script: []mockReply{replyText("forced")}}, "gpt-4", testCompression(), nil, testLogger())
	changed, err := c.ForceCompress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, messages(t, db, conv.ID), 10)

	changed, err = c.ForceCompress(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTruncateFrontKeepsRuneBoundary(t *testing.T) {
	got := truncateFront("ab€cd", 4)
	assert.Equal(t, "cd", got)
	assert.Equal(t, "abc", truncateFront("abc", 5))
}
