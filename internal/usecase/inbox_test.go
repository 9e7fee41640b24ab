package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
)

func TestInboxSubmitStartsConversation(t *testing.T) {
	db := newTestDB(t)
	q := &fakeQueue{}
	agent := seedAgent(t, db, "Researcher")
	inbox := NewInbox(db, db, q, nil, testLogger())

	conv, err := inbox.Submit(context.Background(), SubmitRequest{
		AgentName:  "researcher",
		Content:    "Find three competitors\nand compare their pricing.",
		StepBudget: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, agent.ID, conv.AgentID)
	assert.Equal(t, "Find three competitors", conv.Title)

	msgs := messages(t, db, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	job := q.pop(t)
	assert.Equal(t, domain.QueueAgents, job.Queue)
	p := decode[domain.ReasoningPayload](t, job)
	assert.Equal(t, conv.ID, p.ConversationID)
	assert.Equal(t, 7, p.StepBudget)
}

func TestInboxSubmitContinuesConversation(t *testing.T) {
	db := newTestDB(t)
	q := &fakeQueue{}
	conv := seedConversation(t, db, "")
	inbox := NewInbox(db, db, q, nil, testLogger())

	got, err := inbox.Submit(context.Background(), SubmitRequest{ConversationID: conv.ID, Content: "and now?"})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, []string{domain.JobReasoningCycle}, q.kinds())
}

func TestInboxSubmitErrors(t *testing.T) {
	db := newTestDB(t)
	inbox := NewInbox(db, db, &fakeQueue{}, nil, testLogger())

	_, err := inbox.Submit(context.Background(), SubmitRequest{Content: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = inbox.Submit(context.Background(), SubmitRequest{AgentName: "Ghost", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	_, err = inbox.Submit(context.Background(), SubmitRequest{ConversationID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, "short", Headline("  short  ", 10))
	assert.Equal(t, "first", Headline("first\nsecond", 10))
	long := strings.Repeat("é", 12)
	assert.Equal(t, strings.Repeat("é", 10)+"...", Headline(long, 10))
}
