package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

const learnedBehaviorsHeader = "\n\n[LEARNED BEHAVIORS - Apply these patterns from past interactions]\n"

const missionGuidelines = `CURRENT MISSION: %s

Guidelines:
- Focus ONLY on this task until it is finished.
- Politely refuse new topics that are unrelated to this mission.
- Solve the problem described above; do not drift into side quests.
- When the task is finished, mark it done with the kanban tool (action "complete").`

// ContextBuilder assembles the prompt for one reasoning cycle.
type ContextBuilder struct {
	conversations  domain.ConversationStore
	agents         domain.AgentStore
	backlog        domain.BacklogStore
	window         int
	maxAdaptations int
	locale         config.LocaleConfig
	location       *time.Location
	guard          *ContextGuard
	logger         *slog.Logger
	now            func() time.Time
}

// NewContextBuilder creates a builder. backlog and guard may be nil.
func NewContextBuilder(
	conversations domain.ConversationStore,
	agents domain.AgentStore,
	backlog domain.BacklogStore,
	cfg config.AgentConfig,
	locale config.LocaleConfig,
	guard *ContextGuard,
	logger *slog.Logger,
) *ContextBuilder {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 15
	}
	if cfg.MaxAdaptations <= 0 {
		cfg.MaxAdaptations = 5
	}
	if locale.Location == "" {
		locale.Location = "Sydney, Australia"
	}
	if locale.Timezone == "" {
		locale.Timezone = "Australia/Sydney"
	}
	loc, err := time.LoadLocation(locale.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", locale.Timezone, "error", err)
		loc = time.UTC
	}
	return &ContextBuilder{
		conversations:  conversations,
		agents:         agents,
		backlog:        backlog,
		window:         cfg.ContextWindow,
		maxAdaptations: cfg.MaxAdaptations,
		locale:         locale,
		location:       loc,
		guard:          guard,
		logger:         logger,
		now:            time.Now,
	}
}

// Build returns the ordered prompt: summary, adapted persona, locale, team
// note, mission reminder, then the repaired recent history.
func (cb *ContextBuilder) Build(ctx context.Context, conv *domain.Conversation, agent *domain.Agent) ([]domain.Message, error) {
	var prefix []domain.Message
	system := func(content string) {
		prefix = append(prefix, domain.Message{ConversationID: conv.ID, Role: domain.RoleSystem, Content: content})
	}

	if conv.Summary != "" {
		system("Summary of earlier conversation: " + conv.Summary)
	}

	persona, err := cb.adaptedPersona(ctx, agent)
	if err != nil {
		return nil, err
	}
	if persona != "" {
		system(persona)
	}

	system(cb.localeBlock())

	if conv.IsTeam() {
		names := make([]string, len(conv.Participants))
		for i, p := range conv.Participants {
			names[i] = p.Name
		}
		system(fmt.Sprintf("TEAM MODE: %s. Use @AgentName to speak to them.", strings.Join(names, ", ")))
	}

	if mission := cb.activeMission(ctx, agent); mission != nil {
		system(fmt.Sprintf(missionGuidelines, mission.Title))
	}

	history, err := cb.conversations.RecentMessages(ctx, conv.ID, cb.window)
	if err != nil {
		return nil, domain.WrapOp("ContextBuilder.Build", err)
	}
	history = RepairTranscript(dropEmptyImages(history))
	history, _ = cb.guard.Fit(prefix, history)

	return append(prefix, history...), nil
}

func (cb *ContextBuilder) adaptedPersona(ctx context.Context, agent *domain.Agent) (string, error) {
	if agent == nil {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(agent.Persona)

	adaptations, err := cb.agents.TopAdaptations(ctx, agent.ID, cb.maxAdaptations)
	if err != nil {
		return "", domain.WrapOp("ContextBuilder.Build", err)
	}
	if len(adaptations) > 0 {
		sb.WriteString(learnedBehaviorsHeader)
		for _, a := range adaptations {
			sb.WriteString("- " + a.Instruction + "\n")
		}
	}
	if agent.Personality != "" {
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\nPERSONALITY: " + agent.Personality)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (cb *ContextBuilder) localeBlock() string {
	now := cb.now().In(cb.location)
	return fmt.Sprintf("LOCALE:\nLocation: %s\nTimezone: %s\nCurrent local time: %s",
		cb.locale.Location, cb.locale.Timezone, now.Format("Monday, 02 January 2006 15:04 MST"))
}

// activeMission returns the agent's in_progress backlog item, if any. Lookup
// failures only cost the reminder.
func (cb *ContextBuilder) activeMission(ctx context.Context, agent *domain.Agent) *domain.BacklogItem {
	if cb.backlog == nil || agent == nil {
		return nil
	}
	items, err := cb.backlog.ListItems(ctx, domain.BacklogFilter{
		Statuses: []domain.BacklogStatus{domain.BacklogInProgress},
		AgentID:  agent.ID,
		Limit:    1,
	})
	if err != nil {
		cb.logger.Warn("mission lookup failed", "agent_id", agent.ID, "error", err)
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	return &items[0]
}

// dropEmptyImages removes attachments without data; the rest are sent as
// data URIs by the provider adapter.
func dropEmptyImages(msgs []domain.Message) []domain.Message {
	for i := range msgs {
		if !msgs[i].HasImages() {
			continue
		}
		kept := msgs[i].Images[:0:0]
		for _, img := range msgs[i].Images {
			if img.Data != "" {
				kept = append(kept, img)
			}
		}
		msgs[i].Images = kept
	}
	return msgs
}
