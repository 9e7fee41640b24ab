package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
)

func TestConversationRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv := &domain.Conversation{
		AgentID:      "mgr",
		Title:        "Task: audit login",
		Metadata:     map[string]string{"backlog_item_id": "b1"},
		Participants: []domain.Participant{{AgentID: "dev", Name: "Developer", Order: 1}},
	}
	require.NoError(t, db.CreateConversation(ctx, conv))
	require.NotEmpty(t, conv.ID)

	got, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationActive, got.Status)
	assert.Equal(t, domain.StateIdle, got.State)
	assert.Equal(t, "b1", got.Metadata["backlog_item_id"])
	assert.True(t, got.IsTeam())
	assert.False(t, got.LastPingAt.IsZero())

	got.State = domain.StateAwaitingModel
	got.Depth = 2
	require.NoError(t, db.UpdateConversation(ctx, got))

	again, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingModel, again.State)
	assert.Equal(t, 2, again.Depth)
}

func TestConversationNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	err = db.UpdateConversation(ctx, &domain.Conversation{ID: "missing"})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func seedMessages(t *testing.T, db *DB, convID string, n int) []domain.Message {
	t.Helper()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]domain.Message, 0, n)
	for i := range n {
		m := &domain.Message{
			ConversationID: convID,
			Role:           domain.RoleUser,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, db.AppendMessage(context.Background(), m))
		out = append(out, *m)
	}
	return out
}

func TestMessagesOrderAndRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := &domain.Conversation{Title: "t"}
	require.NoError(t, db.CreateConversation(ctx, conv))
	seedMessages(t, db, conv.ID, 5)

	all, err := db.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "a", all[0].Content)
	assert.Equal(t, "e", all[4].Content)

	recent, err := db.RecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Content)
	assert.Equal(t, "e", recent[1].Content)

	n, err := db.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAppendMessageKeepsToolCallsAndImages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := &domain.Conversation{Title: "t"}
	require.NoError(t, db.CreateConversation(ctx, conv))

	require.NoError(t, db.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		ToolCalls:      []domain.ToolCall{{ID: "call_1", Name: "kanban", Arguments: []byte(`{"action":"list"}`)}},
	}))
	require.NoError(t, db.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        "look",
		Images:         []domain.Image{{MimeType: "image/jpeg", Data: "AAAA"}},
	}))

	msgs, err := db.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "kanban", msgs[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"action":"list"}`, string(msgs[0].ToolCalls[0].Arguments))
	assert.True(t, msgs[1].HasImages())
}

func TestReplaceSummaryIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv := &domain.Conversation{Title: "t"}
	require.NoError(t, db.CreateConversation(ctx, conv))
	msgs := seedMessages(t, db, conv.ID, 4)

	require.NoError(t, db.ReplaceSummary(ctx, conv.ID, "the gist", []string{msgs[0].ID, msgs[1].ID}))

	got, err := db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "the gist", got.Summary)
	n, err := db.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Unknown conversation: nothing is deleted.
	err = db.ReplaceSummary(ctx, "missing", "x", []string{msgs[2].ID})
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
	n, err = db.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
