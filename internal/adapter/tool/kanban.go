package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"autopilot/internal/domain"
)

// KanbanTool lets agents read and move backlog items.
type KanbanTool struct {
	store  domain.BacklogStore
	bus    domain.EventBus
	logger *slog.Logger
}

// NewKanbanTool creates a kanban tool backed by store. bus may be nil.
func NewKanbanTool(store domain.BacklogStore, bus domain.EventBus, logger *slog.Logger) *KanbanTool {
	return &KanbanTool{store: store, bus: bus, logger: logger}
}

func (t *KanbanTool) Name() string { return "kanban" }
func (t *KanbanTool) Description() string {
	return "Manage the Kanban backlog. Actions: create, list, update_status, complete. Use complete when you have finished your current mission."
}

func (t *KanbanTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"description": "One of: create, list, update_status, complete"
				},
				"id": {
					"type": "string",
					"description": "Backlog item ID (update_status; optional for complete, defaults to your current mission)"
				},
				"title": {
					"type": "string",
					"description": "Item title (create)"
				},
				"description": {
					"type": "string",
					"description": "Item description (create)"
				},
				"priority": {
					"type": "string",
					"enum": ["low", "medium", "high"],
					"description": "Item priority (create, default medium)"
				},
				"status": {
					"type": "string",
					"enum": ["hold", "todo", "in_progress", "done"],
					"description": "Status filter (list) or target status for an item assigned to you (update_status: done or hold only)"
				},
				"tags": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Tags such as bug (create)"
				},
				"mine": {
					"type": "boolean",
					"description": "List only items assigned to you"
				},
				"limit": {
					"type": "integer",
					"minimum": 1,
					"description": "Max items to list (default 20)"
				}
			},
			"required": ["action"]
		}`),
	}
}

type kanbanParams struct {
	Action      string   `json:"action"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
	Mine        bool     `json:"mine"`
	Limit       int      `json:"limit"`
}

func (p kanbanParams) ActionName() string { return p.Action }

func (t *KanbanTool) Execute(ctx context.Context, tc domain.ToolContext, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.kanban", t.logger, tc, params,
		Dispatch(ActionMap[kanbanParams]{
			"create":        t.handleCreate,
			"list":          t.handleList,
			"update_status": t.handleUpdateStatus,
			"complete":      t.handleComplete,
		}),
	)
}

func (t *KanbanTool) handleCreate(ctx context.Context, tc domain.ToolContext, p kanbanParams) (any, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, MissingParam("title", "create")
	}
	item := &domain.BacklogItem{
		Title:       title,
		Description: p.Description,
		Priority:    domain.Priority(p.Priority),
		Status:      domain.BacklogTodo,
		Tags:        p.Tags,
	}
	if item.Priority == "" {
		item.Priority = domain.PriorityMedium
	}
	if err := t.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	t.logger.Info("backlog item created", "id", item.ID, "title", item.Title, "by", tc.AgentName)
	emit(ctx, t.bus, tc, domain.EventBacklogUpdated, item)
	return item, nil
}

func (t *KanbanTool) handleList(ctx context.Context, tc domain.ToolContext, p kanbanParams) (any, error) {
	f := domain.BacklogFilter{Limit: p.Limit}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if p.Status != "" {
		f.Statuses = []domain.BacklogStatus{domain.BacklogStatus(p.Status)}
	}
	if p.Mine {
		f.AgentID = tc.AgentID
	}
	items, err := t.store.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return "The backlog is empty for this filter.", nil
	}
	return items, nil
}

// handleUpdateStatus lets the agent working an item finish it or hand it
// back. Moving items to todo or in_progress is left to triage, which owns
// the one-active-item-per-agent rule.
func (t *KanbanTool) handleUpdateStatus(ctx context.Context, tc domain.ToolContext, p kanbanParams) (any, error) {
	if p.ID == "" {
		return nil, MissingParam("id", "update_status")
	}
	status := domain.BacklogStatus(p.Status)
	if !status.Valid() {
		return nil, domain.NewToolError("", domain.KindToolLogic, fmt.Errorf("unknown status %q", p.Status))
	}
	if status != domain.BacklogDone && status != domain.BacklogHold {
		return nil, domain.NewToolError("", domain.KindAgentReasoning,
			fmt.Errorf("status %q is set by triage; you can only move your item to done or hold", status))
	}
	item, err := t.store.GetItem(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(item, tc); err != nil {
		return nil, err
	}
	item.Status = status
	if status == domain.BacklogHold {
		item.AgentID = ""
	}
	if err := t.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	emit(ctx, t.bus, tc, domain.EventBacklogUpdated, item)
	return item, nil
}

// checkOwner rejects changes to items assigned to someone else.
func checkOwner(item *domain.BacklogItem, tc domain.ToolContext) error {
	if tc.AgentID != "" && item.AgentID == tc.AgentID {
		return nil
	}
	return domain.NewToolError("", domain.KindAgentReasoning,
		fmt.Errorf("item %s is not assigned to you", item.ID))
}

func (t *KanbanTool) handleComplete(ctx context.Context, tc domain.ToolContext, p kanbanParams) (any, error) {
	var item *domain.BacklogItem
	if p.ID != "" {
		got, err := t.store.GetItem(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if err := checkOwner(got, tc); err != nil {
			return nil, err
		}
		item = got
	} else {
		if tc.AgentID == "" {
			return nil, MissingParam("id", "complete")
		}
		items, err := t.store.ListItems(ctx, domain.BacklogFilter{
			Statuses: []domain.BacklogStatus{domain.BacklogInProgress},
			AgentID:  tc.AgentID,
			Limit:    1,
		})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, domain.NewToolError("", domain.KindAgentReasoning,
				fmt.Errorf("agent %s has no in_progress item to complete", tc.AgentName))
		}
		item = &items[0]
	}
	if item.Status == domain.BacklogDone {
		return fmt.Sprintf("Item %s is already done.", item.ID), nil
	}

	item.Status = domain.BacklogDone
	if err := t.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	t.logger.Info("backlog item completed", "id", item.ID, "agent", tc.AgentName)
	emit(ctx, t.bus, tc, domain.EventBacklogUpdated, item)
	return fmt.Sprintf("Marked %q as done.", item.Title), nil
}
