package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"autopilot/internal/domain"
)

var (
	_ domain.AgentStore        = (*DB)(nil)
	_ domain.LearningCollector = (*DB)(nil)
)

const agentColumns = `id, name, persona, personality, model, tools, step_budget, color, created_at`

// SaveAgent inserts the agent or replaces the row with the same ID.
func (s *DB) SaveAgent(ctx context.Context, a *domain.Agent) error {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	tools, err := marshalJSON(a.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	return s.WithRetry(ctx, "Store.SaveAgent", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, persona = excluded.persona,
				personality = excluded.personality, model = excluded.model, tools = excluded.tools,
				step_budget = excluded.step_budget, color = excluded.color`,
			a.ID, a.Name, a.Persona, a.Personality, a.Model, tools, a.StepBudget, a.Color,
			formatTime(a.CreatedAt),
		)
		return err
	})
}

func (s *DB) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.GetAgent", domain.ErrAgentNotFound, id)
	}
	return a, err
}

// GetAgentByName matches names case-insensitively.
func (s *DB) GetAgentByName(ctx context.Context, name string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ? COLLATE NOCASE`, name)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.GetAgentByName", domain.ErrAgentNotFound, name)
	}
	return a, err
}

func (s *DB) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SaveAdaptation stores a learned behaviour for an agent.
func (s *DB) SaveAdaptation(ctx context.Context, a *domain.Adaptation) error {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	return s.WithRetry(ctx, "Store.SaveAdaptation", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO adaptations (id, agent_id, instruction, weight, active) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET instruction = excluded.instruction,
				weight = excluded.weight, active = excluded.active`,
			a.ID, a.AgentID, a.Instruction, a.Weight, a.Active,
		)
		return err
	})
}

func (s *DB) TopAdaptations(ctx context.Context, agentID string, limit int) ([]domain.Adaptation, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, instruction, weight, active FROM adaptations
		WHERE agent_id = ? AND active = 1 ORDER BY weight DESC, id LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Adaptation
	for rows.Next() {
		var a domain.Adaptation
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Instruction, &a.Weight, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Capture stores an (input, output) pair for later fine-tuning.
func (s *DB) Capture(ctx context.Context, ex domain.LearningExample) error {
	if ex.ID == "" {
		ex.ID = domain.NewID()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = s.now()
	}
	return s.WithRetry(ctx, "Store.Capture", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO learning_examples (id, agent_id, conversation_id, input, output, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ex.ID, ex.AgentID, ex.ConversationID, ex.Input, ex.Output, formatTime(ex.CreatedAt),
		)
		return err
	})
}

// CountLearningExamples returns how many examples were captured for an agent.
func (s *DB) CountLearningExamples(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_examples WHERE agent_id = ?`, agentID,
	).Scan(&n)
	return n, err
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var (
		a         domain.Agent
		tools, ts string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Persona, &a.Personality, &a.Model, &tools,
		&a.StepBudget, &a.Color, &ts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tools, &a.Tools); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	a.CreatedAt = parseTime(ts)
	return &a, nil
}
