package domain

import (
	"slices"
	"time"
)

// Priority of a backlog item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for triage: high < medium < low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool { return p.Rank() < 3 }

// BacklogStatus is the Kanban column of an item.
type BacklogStatus string

const (
	BacklogHold       BacklogStatus = "hold"
	BacklogTodo       BacklogStatus = "todo"
	BacklogInProgress BacklogStatus = "in_progress"
	BacklogDone       BacklogStatus = "done"
)

// Valid reports whether s is one of the known statuses.
func (s BacklogStatus) Valid() bool {
	switch s {
	case BacklogHold, BacklogTodo, BacklogInProgress, BacklogDone:
		return true
	}
	return false
}

// BusyStatuses are the statuses that make the assigned agent busy.
var BusyStatuses = []BacklogStatus{BacklogTodo, BacklogInProgress}

// TriageStatuses are the statuses triage picks work from.
var TriageStatuses = []BacklogStatus{BacklogHold, BacklogTodo}

// BacklogItem is a unit of agent work on the Kanban board.
type BacklogItem struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Priority       Priority      `json:"priority"`
	Status         BacklogStatus `json:"status"`
	AgentID        string        `json:"agent_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// HasTag reports whether the item carries tag.
func (b *BacklogItem) HasTag(tag string) bool { return slices.Contains(b.Tags, tag) }

// BacklogFilter narrows backlog queries. Zero values match everything.
type BacklogFilter struct {
	Statuses []BacklogStatus
	AgentID  string
	Limit    int
}
