package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/domain"
)

func TestListItemsOrdersByPriorityThenAge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, it := range []struct {
		title    string
		priority domain.Priority
	}{
		{"low one", domain.PriorityLow},
		{"medium one", domain.PriorityMedium},
		{"high one", domain.PriorityHigh},
		{"high two", domain.PriorityHigh},
	} {
		require.NoError(t, db.CreateItem(ctx, &domain.BacklogItem{Title: it.title, Priority: it.priority}))
	}
	require.NoError(t, db.CreateItem(ctx, &domain.BacklogItem{Title: "finished", Status: domain.BacklogDone}))

	items, err := db.ListItems(ctx, domain.BacklogFilter{Statuses: domain.TriageStatuses})
	require.NoError(t, err)
	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"high one", "high two", "medium one", "low one"}, titles)

	limited, err := db.ListItems(ctx, domain.BacklogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAssignIfFree(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &domain.BacklogItem{Title: "first", Status: domain.BacklogHold}
	second := &domain.BacklogItem{Title: "second", Status: domain.BacklogHold}
	require.NoError(t, db.CreateItem(ctx, first))
	require.NoError(t, db.CreateItem(ctx, second))

	require.NoError(t, db.AssignIfFree(ctx, first.ID, "dev"))
	got, err := db.GetItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BacklogInProgress, got.Status)
	assert.Equal(t, "dev", got.AgentID)

	err = db.AssignIfFree(ctx, second.ID, "dev")
	require.ErrorIs(t, err, domain.ErrAgentBusy)
	assert.Equal(t, domain.CodeAgentBusy, domain.ErrorCodeOf(err))

	n, err := db.CountActive(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = db.AssignIfFree(ctx, "missing", "qa")
	assert.ErrorIs(t, err, domain.ErrBacklogItemNotFound)
}

func TestAssignIfFreeConcurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		item := &domain.BacklogItem{Title: "job", Status: domain.BacklogHold}
		require.NoError(t, db.CreateItem(ctx, item))
		ids[i] = item.ID
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if db.AssignIfFree(ctx, id, "dev") == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	n, err := db.CountActive(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExistsOpen(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := &domain.BacklogItem{
		Title:       "FIX: Critical Code Error in Queue",
		Description: "Error: syntax error near foo\nUUID: 123",
	}
	require.NoError(t, db.CreateItem(ctx, item))

	ok, err := db.ExistsOpen(ctx, item.Title, "syntax error near foo")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ExistsOpen(ctx, item.Title, "something else")
	require.NoError(t, err)
	assert.False(t, ok)

	item.Status = domain.BacklogDone
	require.NoError(t, db.UpdateItem(ctx, item))
	ok, err = db.ExistsOpen(ctx, item.Title, "syntax error near foo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleInProgress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := &domain.BacklogItem{Title: "stuck", Status: domain.BacklogInProgress, AgentID: "dev"}
	require.NoError(t, db.CreateItem(ctx, item))

	stale, err := db.StaleInProgress(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, item.ID, stale[0].ID)

	stale, err = db.StaleInProgress(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestUpdateItemNotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.UpdateItem(context.Background(), &domain.BacklogItem{ID: "nope"})
	assert.ErrorIs(t, err, domain.ErrBacklogItemNotFound)
}
