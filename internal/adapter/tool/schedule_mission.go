package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
)

// ScheduleMissionTool lets an agent queue a prompt to run autonomously later.
type ScheduleMissionTool struct {
	store  domain.MissionStore
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduleMissionTool creates the tool over store. bus may be nil.
func NewScheduleMissionTool(store domain.MissionStore, bus domain.EventBus, logger *slog.Logger) *ScheduleMissionTool {
	return &ScheduleMissionTool{store: store, bus: bus, logger: logger, now: time.Now}
}

func (t *ScheduleMissionTool) Name() string { return "schedule_mission" }
func (t *ScheduleMissionTool) Description() string {
	return "Schedule a prompt to be run autonomously at a later time in a fresh conversation. Actions: create, list, cancel."
}

func (t *ScheduleMissionTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {
					"type": "string",
					"description": "One of: create, list, cancel"
				},
				"prompt": {
					"type": "string",
					"description": "What the agent should do when the mission fires (create)"
				},
				"at": {
					"type": "string",
					"description": "RFC 3339 timestamp to run at (create), e.g. '2026-03-01T09:00:00Z'"
				},
				"in": {
					"type": "string",
					"description": "Delay from now as a Go duration (create), e.g. '90m' or '24h'"
				},
				"id": {
					"type": "string",
					"description": "Mission ID (cancel)"
				}
			},
			"required": ["action"]
		}`),
	}
}

type missionParams struct {
	Action string `json:"action"`
	Prompt string `json:"prompt"`
	At     string `json:"at"`
	In     string `json:"in"`
	ID     string `json:"id"`
}

func (p missionParams) ActionName() string { return p.Action }

func (t *ScheduleMissionTool) Execute(ctx context.Context, tc domain.ToolContext, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.schedule_mission", t.logger, tc, params,
		Dispatch(ActionMap[missionParams]{
			"create": t.handleCreate,
			"list":   t.handleList,
			"cancel": t.handleCancel,
		}),
	)
}

func (t *ScheduleMissionTool) handleCreate(ctx context.Context, tc domain.ToolContext, p missionParams) (any, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return nil, MissingParam("prompt", "create")
	}
	at, err := t.resolveTime(p)
	if err != nil {
		return nil, domain.NewToolError("", domain.KindToolLogic, err)
	}

	m := &domain.ScheduledMission{
		ConversationID: tc.ConversationID,
		AgentID:        tc.AgentID,
		Prompt:         prompt,
		ExecuteAt:      at,
		Status:         domain.MissionPending,
	}
	if err := t.store.CreateMission(ctx, m); err != nil {
		return nil, err
	}
	t.logger.Info("mission scheduled", "id", m.ID, "execute_at", m.ExecuteAt, "conversation_id", tc.ConversationID)
	emit(ctx, t.bus, tc, domain.EventMissionScheduled, m)
	return m, nil
}

// resolveTime picks the execution time from "at" or "in". With neither the
// mission runs on the next sweep.
func (t *ScheduleMissionTool) resolveTime(p missionParams) (time.Time, error) {
	now := t.now().UTC()
	switch {
	case p.At != "" && p.In != "":
		return time.Time{}, fmt.Errorf("give either at or in, not both")
	case p.At != "":
		at, err := time.Parse(time.RFC3339, p.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid at timestamp %q: %w", p.At, err)
		}
		return at.UTC(), nil
	case p.In != "":
		d, err := time.ParseDuration(p.In)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid in duration %q: %w", p.In, err)
		}
		if d < 0 {
			return time.Time{}, fmt.Errorf("in duration must not be negative")
		}
		return now.Add(d), nil
	}
	return now, nil
}

func (t *ScheduleMissionTool) handleList(ctx context.Context, tc domain.ToolContext, _ missionParams) (any, error) {
	missions, err := t.store.ListMissions(ctx, tc.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(missions) == 0 {
		return "No missions scheduled from this conversation.", nil
	}
	return missions, nil
}

func (t *ScheduleMissionTool) handleCancel(ctx context.Context, tc domain.ToolContext, p missionParams) (any, error) {
	if p.ID == "" {
		return nil, MissingParam("id", "cancel")
	}
	m, err := t.store.GetMission(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if m.ConversationID != tc.ConversationID {
		return nil, domain.NewToolError("", domain.KindAgentReasoning,
			fmt.Errorf("mission %s was not scheduled from this conversation", p.ID))
	}
	if m.Status != domain.MissionPending {
		return nil, domain.NewToolError("", domain.KindToolLogic,
			fmt.Errorf("mission %s is %s and can no longer be cancelled", p.ID, m.Status))
	}
	m.Status = domain.MissionFailed
	m.Result = "cancelled by " + tc.AgentName
	if err := t.store.UpdateMission(ctx, m); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Mission %s cancelled.", m.ID), nil
}
