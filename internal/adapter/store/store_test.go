package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
)

func TestAgentsAndAdaptations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dev := &domain.Agent{Name: "Developer", Persona: "You write code.", Tools: []string{"kanban"}}
	require.NoError(t, db.SaveAgent(ctx, dev))

	got, err := db.GetAgentByName(ctx, "developer")
	require.NoError(t, err)
	assert.Equal(t, dev.ID, got.ID)
	assert.Equal(t, []string{"kanban"}, got.Tools)

	dev.Persona = "You write careful code."
	require.NoError(t, db.SaveAgent(ctx, dev))
	got, err = db.GetAgent(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "You write careful code.", got.Persona)

	_, err = db.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	for i, w := range []float64{0.2, 0.9, 0.5} {
		require.NoError(t, db.SaveAdaptation(ctx, &domain.Adaptation{
			AgentID: dev.ID, Instruction: string(rune('A' + i)), Weight: w, Active: true,
		}))
	}
	require.NoError(t, db.SaveAdaptation(ctx, &domain.Adaptation{
		AgentID: dev.ID, Instruction: "inactive", Weight: 5, Active: false,
	}))

	top, err := db.TopAdaptations(ctx, dev.ID, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].Instruction)
	assert.Equal(t, "C", top[1].Instruction)

	agents, err := db.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestCapture(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Capture(ctx, domain.LearningExample{AgentID: "a1", Input: "hi", Output: "hello"}))
	n, err := db.CountLearningExamples(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTraceLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tr := &domain.Trace{ConversationID: "c1", ToolName: "kanban", ToolCallID: "call_1", Input: []byte(`{"action":"list"}`)}
	require.NoError(t, db.OpenTrace(ctx, tr))
	assert.Equal(t, domain.TraceExecuting, tr.Status)

	tr.Status = domain.TraceError
	tr.ErrorKind = domain.KindToolLogic
	tr.Output = "bad action"
	require.NoError(t, db.CloseTrace(ctx, tr))

	// A closed trace cannot be closed again.
	assert.ErrorIs(t, db.CloseTrace(ctx, tr), domain.ErrNotFound)

	traces, err := db.ListTraces(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, domain.TraceError, traces[0].Status)
	assert.Equal(t, domain.KindToolLogic, traces[0].ErrorKind)
	assert.False(t, traces[0].FinishedAt.IsZero())

	all, err := db.ListTraces(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMissions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := &domain.ScheduledMission{ConversationID: "c1", AgentID: "a1", Prompt: "check logs", ExecuteAt: now.Add(-time.Minute)}
	later := &domain.ScheduledMission{ConversationID: "c1", AgentID: "a1", Prompt: "later", ExecuteAt: now.Add(time.Hour)}
	require.NoError(t, db.CreateMission(ctx, due))
	require.NoError(t, db.CreateMission(ctx, later))

	got, err := db.DueMissions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
	assert.Equal(t, domain.MissionPending, got[0].Status)

	due.Status = domain.MissionCompleted
	due.RunConversationID = "c2"
	require.NoError(t, db.UpdateMission(ctx, due))

	got, err = db.DueMissions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	m, err := db.GetMission(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, "c2", m.RunConversationID)

	list, err := db.ListMissions(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = db.GetMission(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrMissionNotFound)
}

func TestCache(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.HitCache(ctx, "h1", now)
	require.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, db.PutCache(ctx, &domain.CachedResponse{Hash: "h1", Query: "q", Response: "first"}))
	require.NoError(t, db.PutCache(ctx, &domain.CachedResponse{Hash: "h1", Query: "q", Response: "second"}))

	hit, err := db.HitCache(ctx, "h1", now)
	require.NoError(t, err)
	assert.Equal(t, "first", hit.Response)
	assert.Equal(t, 1, hit.Hits)

	hit, err = db.HitCache(ctx, "h1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, hit.Hits)

	n, err := db.PurgeCache(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = db.PurgeCache(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
