package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"autopilot/internal/domain"
)

var _ domain.MissionStore = (*DB)(nil)

const missionColumns = `id, conversation_id, agent_id, prompt, execute_at, status, result,
	run_conversation_id, created_at, updated_at`

func (s *DB) CreateMission(ctx context.Context, m *domain.ScheduledMission) error {
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.Status == "" {
		m.Status = domain.MissionPending
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	return s.WithRetry(ctx, "Store.CreateMission", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO scheduled_missions (`+missionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.AgentID, m.Prompt, formatTime(m.ExecuteAt), string(m.Status),
			m.Result, m.RunConversationID, formatTime(now), formatTime(now),
		)
		return err
	})
}

func (s *DB) GetMission(ctx context.Context, id string) (*domain.ScheduledMission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM scheduled_missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.GetMission", domain.ErrMissionNotFound, id)
	}
	return m, err
}

func (s *DB) UpdateMission(ctx context.Context, m *domain.ScheduledMission) error {
	m.UpdatedAt = s.now()
	var n int64
	err := s.WithRetry(ctx, "Store.UpdateMission", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE scheduled_missions SET prompt = ?, execute_at = ?, status = ?, result = ?,
				run_conversation_id = ?, updated_at = ?
			WHERE id = ?`,
			m.Prompt, formatTime(m.ExecuteAt), string(m.Status), m.Result,
			m.RunConversationID, formatTime(m.UpdatedAt), m.ID,
		)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewDomainError("Store.UpdateMission", domain.ErrMissionNotFound, m.ID)
	}
	return nil
}

// DueMissions returns pending missions whose time has come, oldest first.
func (s *DB) DueMissions(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMission, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMissions(ctx,
		`SELECT `+missionColumns+` FROM scheduled_missions
		WHERE status = ? AND execute_at <= ? ORDER BY execute_at, id LIMIT ?`,
		string(domain.MissionPending), formatTime(now), limit,
	)
}

// ListMissions returns missions created from a conversation, or all
// missions when conversationID is empty.
func (s *DB) ListMissions(ctx context.Context, conversationID string) ([]domain.ScheduledMission, error) {
	if conversationID == "" {
		return s.queryMissions(ctx, `SELECT `+missionColumns+` FROM scheduled_missions ORDER BY execute_at, id`)
	}
	return s.queryMissions(ctx,
		`SELECT `+missionColumns+` FROM scheduled_missions WHERE conversation_id = ? ORDER BY execute_at, id`,
		conversationID,
	)
}

func (s *DB) queryMissions(ctx context.Context, query string, args ...any) ([]domain.ScheduledMission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledMission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMission(row rowScanner) (*domain.ScheduledMission, error) {
	var (
		m                    domain.ScheduledMission
		executeAt, status    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.AgentID, &m.Prompt, &executeAt, &status,
		&m.Result, &m.RunConversationID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.ExecuteAt = parseTime(executeAt)
	m.Status = domain.MissionStatus(status)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}
