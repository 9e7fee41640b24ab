package domain

import (
	"context"
	"time"
)

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, c *Conversation) error

	AppendMessage(ctx context.Context, m *Message) error
	// Messages returns all messages in creation order.
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	// RecentMessages returns the last n messages in creation order.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	// ReplaceSummary stores summary and deletes the given messages atomically.
	ReplaceSummary(ctx context.Context, conversationID, summary string, deleteIDs []string) error
}

// AgentStore reads agents and their learned adaptations.
type AgentStore interface {
	SaveAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	// TopAdaptations returns up to limit active adaptations by weight desc.
	TopAdaptations(ctx context.Context, agentID string, limit int) ([]Adaptation, error)
}

// LearningCollector receives (input, output) pairs after final answers.
type LearningCollector interface {
	Capture(ctx context.Context, ex LearningExample) error
}

// TraceStore persists tool invocation traces.
type TraceStore interface {
	OpenTrace(ctx context.Context, t *Trace) error
	CloseTrace(ctx context.Context, t *Trace) error
	ListTraces(ctx context.Context, conversationID string, limit int) ([]Trace, error)
}

// BacklogStore is the Kanban CRUD surface.
type BacklogStore interface {
	CreateItem(ctx context.Context, item *BacklogItem) error
	GetItem(ctx context.Context, id string) (*BacklogItem, error)
	UpdateItem(ctx context.Context, item *BacklogItem) error
	// ListItems returns matching items ordered by priority rank, then creation time.
	ListItems(ctx context.Context, f BacklogFilter) ([]BacklogItem, error)
	CountActive(ctx context.Context, agentID string) (int, error)
	// AssignIfFree assigns the item and moves it to in_progress only if the
	// agent has no busy item. It returns ErrAgentBusy otherwise.
	AssignIfFree(ctx context.Context, itemID, agentID string) error
	// ExistsOpen reports whether a non-done item has title and a description
	// containing snippet.
	ExistsOpen(ctx context.Context, title, snippet string) (bool, error)
	// StaleInProgress returns in_progress items not updated since before.
	StaleInProgress(ctx context.Context, before time.Time) ([]BacklogItem, error)
}

// MissionStore is the scheduled mission surface.
type MissionStore interface {
	CreateMission(ctx context.Context, m *ScheduledMission) error
	GetMission(ctx context.Context, id string) (*ScheduledMission, error)
	UpdateMission(ctx context.Context, m *ScheduledMission) error
	DueMissions(ctx context.Context, now time.Time, limit int) ([]ScheduledMission, error)
	ListMissions(ctx context.Context, conversationID string) ([]ScheduledMission, error)
}

// CacheStore persists inference cache entries.
type CacheStore interface {
	// HitCache returns the entry and atomically bumps its hit counter.
	HitCache(ctx context.Context, hash string, now time.Time) (*CachedResponse, error)
	// PutCache inserts the entry unless the hash already exists.
	PutCache(ctx context.Context, c *CachedResponse) error
	PurgeCache(ctx context.Context, olderThan time.Time) (int, error)
}
