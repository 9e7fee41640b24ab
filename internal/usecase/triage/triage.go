// Package triage assigns backlog items to specialist agents, one active item
// per agent, and starts the conversations that work them.
package triage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/usecase"
)

// Deps holds the triage service's collaborators.
type Deps struct {
	Backlog    domain.BacklogStore
	Agents     domain.AgentStore
	Dispatcher *Dispatcher
	Bus        domain.EventBus // optional
	Logger     *slog.Logger
	Config     config.TriageConfig
}

// Assignment records one item handed to an agent.
type Assignment struct {
	ItemID         string `json:"item_id"`
	Title          string `json:"title"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name"`
	ConversationID string `json:"conversation_id"`
}

// Report summarizes one triage pass.
type Report struct {
	Evicted     int          `json:"evicted"`
	Considered  int          `json:"considered"`
	Busy        int          `json:"busy"`
	Unroutable  int          `json:"unroutable"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// Service runs triage passes. Concurrent callers share a single pass.
type Service struct {
	deps   Deps
	router *Router
	group  singleflight.Group
	now    func() time.Time
}

// NewService creates a triage service.
func NewService(deps Deps) *Service {
	if deps.Config.DefaultAgent == "" {
		deps.Config.DefaultAgent = "Manager"
	}
	if deps.Config.BugAgent == "" {
		deps.Config.BugAgent = "Developer"
	}
	if deps.Config.Routes == nil {
		deps.Config.Routes = config.DefaultRoutes()
	}
	return &Service{
		deps:   deps,
		router: NewRouter(deps.Config),
		now:    time.Now,
	}
}

// HandleJob runs a triage.pass job.
func (s *Service) HandleJob(ctx context.Context, _ domain.Job) error {
	_, err := s.Triage(ctx)
	return err
}

// Triage evicts stale work, then assigns waiting items in priority order to
// free agents and dispatches them.
func (s *Service) Triage(ctx context.Context) (Report, error) {
	v, err, shared := s.group.Do("triage", func() (any, error) {
		return s.pass(ctx)
	})
	if shared {
		s.deps.Logger.Debug("joined running triage pass")
	}
	report, _ := v.(Report)
	return report, err
}

func (s *Service) pass(ctx context.Context) (Report, error) {
	const op = "triage.Triage"
	var report Report

	evicted, err := s.evictStale(ctx)
	report.Evicted = evicted
	if err != nil {
		return report, domain.WrapOp(op, err)
	}

	items, err := s.deps.Backlog.ListItems(ctx, domain.BacklogFilter{Statuses: domain.TriageStatuses})
	if err != nil {
		return report, domain.WrapOp(op, err)
	}

	var errs []error
	for i := range items {
		item := &items[i]
		report.Considered++
		agent, err := s.resolveAgent(ctx, item)
		if err != nil {
			s.deps.Logger.Warn("no agent for backlog item", "item_id", item.ID, "title", item.Title, "error", err)
			metrics.RecordTriage("", "unroutable")
			report.Unroutable++
			continue
		}

		a, err := s.assign(ctx, item, agent)
		switch {
		case errors.Is(err, domain.ErrAgentBusy):
			metrics.RecordTriage(agent.Name, "busy")
			report.Busy++
		case err != nil:
			errs = append(errs, err)
		default:
			metrics.RecordTriage(agent.Name, "assigned")
			report.Assignments = append(report.Assignments, a)
		}
	}

	s.deps.Logger.Info("triage pass complete",
		"considered", report.Considered,
		"assigned", len(report.Assignments),
		"busy", report.Busy,
		"unroutable", report.Unroutable,
		"evicted", report.Evicted,
	)
	if len(errs) > 0 {
		return report, domain.WrapOp(op, errors.Join(errs...))
	}
	return report, nil
}

// assign claims the item for agent and starts its conversation. A failed
// dispatch puts the item back so the agent does not stay busy.
func (s *Service) assign(ctx context.Context, item *domain.BacklogItem, agent *domain.Agent) (Assignment, error) {
	busy, err := s.agentBusy(ctx, item, agent.ID)
	if err != nil {
		return Assignment{}, err
	}
	if busy {
		return Assignment{}, domain.ErrAgentBusy
	}

	previous := *item
	if err := s.deps.Backlog.AssignIfFree(ctx, item.ID, agent.ID); err != nil {
		return Assignment{}, err
	}
	item.AgentID = agent.ID
	item.Status = domain.BacklogInProgress

	conv, err := s.deps.Dispatcher.DispatchItem(ctx, item)
	if err != nil {
		s.deps.Logger.Error("dispatch failed, returning item", "item_id", item.ID, "agent", agent.Name, "error", err)
		if rerr := s.deps.Backlog.UpdateItem(ctx, &previous); rerr != nil {
			return Assignment{}, errors.Join(err, rerr)
		}
		return Assignment{}, err
	}

	a := Assignment{
		ItemID:         item.ID,
		Title:          item.Title,
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		ConversationID: conv.ID,
	}
	usecase.Publish(ctx, s.deps.Bus, domain.EventTriageAssigned, conv.ID, a)
	s.deps.Logger.Info("backlog item assigned", "item_id", item.ID, "title", item.Title, "agent", agent.Name)
	return a, nil
}

// agentBusy reports whether the agent holds an active item other than item.
func (s *Service) agentBusy(ctx context.Context, item *domain.BacklogItem, agentID string) (bool, error) {
	n, err := s.deps.Backlog.CountActive(ctx, agentID)
	if err != nil {
		return false, err
	}
	if item.AgentID == agentID && (item.Status == domain.BacklogTodo || item.Status == domain.BacklogInProgress) {
		n--
	}
	return n > 0, nil
}

// resolveAgent keeps an explicit assignment, otherwise routes by title and
// tags, falling back to the default agent when the routed one is missing.
func (s *Service) resolveAgent(ctx context.Context, item *domain.BacklogItem) (*domain.Agent, error) {
	if item.AgentID != "" {
		return s.deps.Agents.GetAgent(ctx, item.AgentID)
	}
	name := s.router.Route(item)
	agent, err := s.deps.Agents.GetAgentByName(ctx, name)
	if errors.Is(err, domain.ErrAgentNotFound) && !strings.EqualFold(name, s.deps.Config.DefaultAgent) {
		s.deps.Logger.Warn("routed agent missing, using default", "agent", name, "default", s.deps.Config.DefaultAgent)
		return s.deps.Agents.GetAgentByName(ctx, s.deps.Config.DefaultAgent)
	}
	return agent, err
}

// evictStale returns in_progress items untouched for BusyTimeout to hold and
// frees their agents. A zero timeout disables eviction.
func (s *Service) evictStale(ctx context.Context) (int, error) {
	timeout := s.deps.Config.BusyTimeout
	if timeout <= 0 {
		return 0, nil
	}
	stale, err := s.deps.Backlog.StaleInProgress(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stale {
		item := &stale[i]
		agentID := item.AgentID
		item.Status = domain.BacklogHold
		item.AgentID = ""
		if err := s.deps.Backlog.UpdateItem(ctx, item); err != nil {
			return n, err
		}
		n++
		usecase.Publish(ctx, s.deps.Bus, domain.EventTriageEvicted, item.ConversationID, map[string]string{
			"item_id":  item.ID,
			"agent_id": agentID,
		})
		s.deps.Logger.Warn("stale backlog item evicted",
			"item_id", item.ID,
			"title", item.Title,
			"agent_id", agentID,
			"busy_timeout", timeout,
		)
	}
	return n, nil
}
