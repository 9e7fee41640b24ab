package domain

import "time"

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationArchived  ConversationStatus = "archived"
)

// Participant is an additional agent taking part in a team conversation.
type Participant struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Color   string `json:"color,omitempty"`
	Order   int    `json:"order"`
}

// Conversation is the unit the orchestrator drives. Summary, when present,
// describes everything before the oldest retained message.
type Conversation struct {
	ID           string             `json:"id"`
	AgentID      string             `json:"agent_id"`
	Title        string             `json:"title"`
	Status       ConversationStatus `json:"status"`
	Summary      string             `json:"summary,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Participants []Participant      `json:"participants,omitempty"`
	State        CycleState         `json:"state"`
	Depth        int                `json:"depth"`
	LastPingAt   time.Time          `json:"last_ping_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IsTeam reports whether other agents take part in the conversation.
func (c *Conversation) IsTeam() bool { return len(c.Participants) > 0 }
