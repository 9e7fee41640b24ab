package domain

import "time"

// Agent is a persona the orchestrator can run. Specialists (Developer,
// Researcher, Auditor) and the default manager are all agents.
type Agent struct {
	ID          string    `json:"id"           yaml:"id"`
	Name        string    `json:"name"         yaml:"name"`
	Persona     string    `json:"persona"      yaml:"persona"`
	Personality string    `json:"personality,omitempty" yaml:"personality,omitempty"`
	Model       string    `json:"model,omitempty"       yaml:"model,omitempty"`
	Tools       []string  `json:"tools,omitempty"       yaml:"tools,omitempty"`
	StepBudget  int       `json:"step_budget,omitempty" yaml:"step_budget,omitempty"`
	Color       string    `json:"color,omitempty"       yaml:"color,omitempty"`
	CreatedAt   time.Time `json:"created_at"   yaml:"-"`
}

// Adaptation is a learned behaviour injected into an agent's system prompt.
// It is produced elsewhere; the core only reads it.
type Adaptation struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Instruction string  `json:"instruction"`
	Weight      float64 `json:"weight"`
	Active      bool    `json:"active"`
}

// LearningExample is an (input, output) pair handed to the continuous-learning
// collector after a final answer.
type LearningExample struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id"`
	Input          string    `json:"input"`
	Output         string    `json:"output"`
	CreatedAt      time.Time `json:"created_at"`
}
