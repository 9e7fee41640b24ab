package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
)

func assistantCalls(ids ...string) domain.Message {
	m := domain.Message{Role: domain.RoleAssistant}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, domain.ToolCall{ID: id, Name: "tool_" + id, Arguments: json.RawMessage(`{}`)})
	}
	return m
}

func toolResult(id, content string) domain.Message {
	return domain.Message{Role: domain.RoleTool, Name: "tool_" + id, ToolCallID: id, Content: content}
}

func roles(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestRepairTranscript_Empty(t *testing.T) {
	assert.Nil(t, RepairTranscript(nil))
}

func TestRepairTranscript_NoToolCalls(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hi there"},
		{Role: domain.RoleUser, Content: "how are you?"},
	}
	assert.Equal(t, msgs, RepairTranscript(msgs))
}

func TestRepairTranscript_ValidToolChain(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "use the tool"},
		assistantCalls("a"),
		toolResult("a", "result"),
		{Role: domain.RoleAssistant, Content: "done"},
	}
	assert.Equal(t, msgs, RepairTranscript(msgs))
}

func TestRepairTranscript_MissingToolResult(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "use the tool"},
		assistantCalls("a"),
		{Role: domain.RoleUser, Content: "what happened?"},
	}
	got := RepairTranscript(msgs)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"user", "assistant", "tool", "user"}, roles(got))
	assert.Equal(t, "a", got[2].ToolCallID)
	assert.Equal(t, MissingToolResult, got[2].Content)
}

func TestRepairTranscript_OrphanedToolResult(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hello"},
		toolResult("zzz", "orphan"),
		{Role: domain.RoleTool, Content: "no id"},
		{Role: domain.RoleAssistant, Content: "ok"},
	}
	got := RepairTranscript(msgs)
	assert.Equal(t, []string{"user", "assistant"}, roles(got))
}

func TestRepairTranscript_PartialBatchKeepsCallOrder(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "use tools"},
		assistantCalls("a", "b", "c", "d"),
		toolResult("b", "result_b"),
		{Role: domain.RoleAssistant, Content: "done"},
	}
	got := RepairTranscript(msgs)
	require.Len(t, got, 7)
	assert.Equal(t, "b", got[2].ToolCallID)
	assert.Equal(t, "a", got[3].ToolCallID)
	assert.Equal(t, "c", got[4].ToolCallID)
	assert.Equal(t, "d", got[5].ToolCallID)
	assert.Equal(t, "tool_c", got[4].Name)
}

func TestRepairTranscript_ConsecutiveAssistantMessages(t *testing.T) {
	msgs := []domain.Message{
		assistantCalls("a"),
		assistantCalls("b"),
		toolResult("b", "result_b"),
	}
	got := RepairTranscript(msgs)
	assert.Equal(t, []string{"assistant", "tool", "assistant", "tool"}, roles(got))
	assert.Equal(t, "a", got[1].ToolCallID)
}

func TestRepairTranscript_TrailingPendingCalls(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "use tool"},
		assistantCalls("a"),
	}
	got := RepairTranscript(msgs)
	assert.Equal(t, []string{"user", "assistant", "tool"}, roles(got))
}

func TestRepairTranscript_DoesNotModifyInput(t *testing.T) {
	msgs := []domain.Message{assistantCalls("a"), {Role: domain.RoleUser, Content: "x"}}
	_ = RepairTranscript(msgs)
	assert.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
}
