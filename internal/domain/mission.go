package domain

import "time"

// MissionStatus is the lifecycle of a scheduled mission.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// ScheduledMission is a prompt an agent asked to run later.
type ScheduledMission struct {
	ID                string        `json:"id"`
	ConversationID    string        `json:"conversation_id"`
	AgentID           string        `json:"agent_id"`
	Prompt            string        `json:"prompt"`
	ExecuteAt         time.Time     `json:"execute_at"`
	Status            MissionStatus `json:"status"`
	Result            string        `json:"result,omitempty"`
	RunConversationID string        `json:"run_conversation_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Due reports whether the mission should be dispatched at now.
func (m *ScheduledMission) Due(now time.Time) bool {
	return m.Status == MissionPending && !m.ExecuteAt.After(now)
}
