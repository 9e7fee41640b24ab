package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/usecase"
)

// missionSweepLimit bounds how many due missions one sweep enqueues.
const missionSweepLimit = 100

// DispatcherDeps holds the dispatcher's collaborators.
type DispatcherDeps struct {
	Inbox    *usecase.Inbox
	Backlog  domain.BacklogStore
	Missions domain.MissionStore
	Queue    domain.JobQueue
	Bus      domain.EventBus // optional
	Logger   *slog.Logger
}

// Dispatcher turns assigned backlog items and due missions into fresh
// conversations with a queued first cycle.
type Dispatcher struct {
	deps DispatcherDeps
	now  func() time.Time

	// claim serializes the pending -> running check for missions.
	claim sync.Mutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{deps: deps, now: time.Now}
}

// ItemBriefing is the first message of a conversation started for a
// backlog item.
func ItemBriefing(item *domain.BacklogItem) string {
	return fmt.Sprintf("MISSION ASSIGNED from Kanban Board:\nTitle: %s\nDescription: %s\nPriority: %s\n\n"+
		"Please begin working on this task immediately. Status has been moved to 'in_progress'.",
		item.Title, item.Description, item.Priority)
}

// MissionBriefing is the first message of a scheduled mission run.
func MissionBriefing(prompt string) string {
	return "AUTONOMOUS MISSION TRIGGERED: " + prompt
}

// DispatchItem starts a conversation for an item already assigned to an
// agent and records it on the item.
func (d *Dispatcher) DispatchItem(ctx context.Context, item *domain.BacklogItem) (*domain.Conversation, error) {
	const op = "Dispatcher.DispatchItem"
	if item.AgentID == "" {
		return nil, domain.NewSubSystemError("triage", op, domain.ErrInvalidInput, "item "+item.ID+" has no agent")
	}

	conv, err := d.deps.Inbox.Submit(ctx, usecase.SubmitRequest{
		AgentID:  item.AgentID,
		Title:    "Task: " + item.Title,
		Content:  ItemBriefing(item),
		Metadata: map[string]string{"backlog_item_id": item.ID},
	})
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	item.Status = domain.BacklogInProgress
	item.ConversationID = conv.ID
	if err := d.deps.Backlog.UpdateItem(ctx, item); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	d.deps.Logger.Info("backlog item dispatched",
		"item_id", item.ID,
		"agent_id", item.AgentID,
		"conversation_id", conv.ID,
	)
	return conv, nil
}

// DispatchMission runs a pending mission in a new conversation. Failures are
// recorded on the mission; only errors saving that record are returned.
func (d *Dispatcher) DispatchMission(ctx context.Context, m *domain.ScheduledMission) error {
	const op = "Dispatcher.DispatchMission"
	logger := d.deps.Logger.With("mission_id", m.ID)

	claimed, err := d.claimMission(ctx, m)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if !claimed {
		logger.Debug("mission not pending, skipped", "status", m.Status)
		return nil
	}

	conv, err := d.deps.Inbox.Submit(ctx, usecase.SubmitRequest{
		AgentID: m.AgentID,
		Title:   "Mission: " + usecase.Headline(m.Prompt, 50),
		Content: MissionBriefing(m.Prompt),
		Metadata: map[string]string{
			"mission_id":             m.ID,
			"origin_conversation_id": m.ConversationID,
		},
	})
	if err != nil {
		m.Status = domain.MissionFailed
		m.Result = err.Error()
		if uerr := d.deps.Missions.UpdateMission(ctx, m); uerr != nil {
			return domain.WrapOp(op, errors.Join(err, uerr))
		}
		usecase.Publish(ctx, d.deps.Bus, domain.EventMissionFailed, m.ConversationID, map[string]string{
			"mission_id": m.ID,
			"error":      m.Result,
		})
		logger.Error("mission dispatch failed", "error", err)
		return nil
	}

	m.Status = domain.MissionCompleted
	m.RunConversationID = conv.ID
	if err := d.deps.Missions.UpdateMission(ctx, m); err != nil {
		return domain.WrapOp(op, err)
	}
	usecase.Publish(ctx, d.deps.Bus, domain.EventMissionDispatched, m.ConversationID, map[string]string{
		"mission_id":          m.ID,
		"run_conversation_id": conv.ID,
	})
	logger.Info("mission dispatched", "run_conversation_id", conv.ID)
	return nil
}

// claimMission moves a pending mission to running. It re-reads the mission
// so duplicate dispatch jobs see the latest status.
func (d *Dispatcher) claimMission(ctx context.Context, m *domain.ScheduledMission) (bool, error) {
	d.claim.Lock()
	defer d.claim.Unlock()

	fresh, err := d.deps.Missions.GetMission(ctx, m.ID)
	if err != nil {
		return false, err
	}
	*m = *fresh
	if m.Status != domain.MissionPending {
		return false, nil
	}
	m.Status = domain.MissionRunning
	if err := d.deps.Missions.UpdateMission(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

// SweepMissions enqueues one mission.dispatch job per due mission and
// returns how many were enqueued.
func (d *Dispatcher) SweepMissions(ctx context.Context) (int, error) {
	const op = "Dispatcher.SweepMissions"
	due, err := d.deps.Missions.DueMissions(ctx, d.now(), missionSweepLimit)
	if err != nil {
		return 0, domain.WrapOp(op, err)
	}
	n := 0
	for _, m := range due {
		spec, err := domain.NewJobSpec(domain.QueueDefault, domain.JobMissionDispatch, domain.MissionPayload{MissionID: m.ID})
		if err != nil {
			return n, domain.WrapOp(op, err)
		}
		if _, err := d.deps.Queue.Enqueue(ctx, spec); err != nil {
			return n, domain.WrapOp(op, err)
		}
		n++
	}
	if n > 0 {
		d.deps.Logger.Info("due missions queued", "count", n)
	}
	return n, nil
}

// HandleMissionJob runs a mission.dispatch job. A mission deleted since it
// was queued is skipped.
func (d *Dispatcher) HandleMissionJob(ctx context.Context, job domain.Job) error {
	var p domain.MissionPayload
	if err := domain.DecodePayload(job, &p); err != nil {
		return err
	}
	err := d.DispatchMission(ctx, &domain.ScheduledMission{ID: p.MissionID})
	if errors.Is(err, domain.ErrMissionNotFound) {
		d.deps.Logger.Warn("mission vanished before dispatch", "mission_id", p.MissionID)
		return nil
	}
	return err
}

// HandleSweepJob runs a missions.sweep job.
func (d *Dispatcher) HandleSweepJob(ctx context.Context, _ domain.Job) error {
	_, err := d.SweepMissions(ctx)
	return err
}
