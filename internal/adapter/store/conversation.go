package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"autopilot/internal/domain"
)

var _ domain.ConversationStore = (*DB)(nil)

const conversationColumns = `id, agent_id, title, status, summary, metadata, participants,
	state, depth, last_ping_at, created_at, updated_at`

const messageColumns = `id, conversation_id, role, content, name, tool_calls,
	tool_call_id, images, sentiment, created_at`

func (s *DB) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	if c.Status == "" {
		c.Status = domain.ConversationActive
	}
	if c.State == "" {
		c.State = domain.StateIdle
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.LastPingAt.IsZero() {
		c.LastPingAt = now
	}
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	parts, err := marshalJSON(c.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	return s.WithRetry(ctx, "Store.CreateConversation", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.AgentID, c.Title, string(c.Status), c.Summary, meta, parts,
			string(c.State), c.Depth, nullTime(c.LastPingAt), formatTime(now), formatTime(now),
		)
		return err
	})
}

func (s *DB) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.GetConversation", domain.ErrConversationNotFound, id)
	}
	return c, err
}

func (s *DB) UpdateConversation(ctx context.Context, c *domain.Conversation) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	parts, err := marshalJSON(c.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	c.UpdatedAt = s.now()
	var n int64
	err = s.WithRetry(ctx, "Store.UpdateConversation", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET agent_id = ?, title = ?, status = ?, summary = ?, metadata = ?,
				participants = ?, state = ?, depth = ?, last_ping_at = ?, updated_at = ?
			WHERE id = ?`,
			c.AgentID, c.Title, string(c.Status), c.Summary, meta, parts,
			string(c.State), c.Depth, nullTime(c.LastPingAt), formatTime(c.UpdatedAt), c.ID,
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
		return domain.NewDomainError("Store.UpdateConversation", domain.ErrConversationNotFound, c.ID)
	}
	return nil
}

func (s *DB) AppendMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	calls, err := marshalJSON(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	images, err := marshalJSON(m.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	return s.WithRetry(ctx, "Store.AppendMessage", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.Role, m.Content, m.Name, calls,
			m.ToolCallID, images, m.Sentiment, formatTime(m.CreatedAt),
		)
		return err
	})
}

func (s *DB) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at, id`,
		conversationID,
	)
}

func (s *DB) RecentMessages(ctx context.Context, conversationID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		conversationID, n,
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *DB) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	return n, err
}

func (s *DB) ReplaceSummary(ctx context.Context, conversationID, summary string, deleteIDs []string) error {
	return s.Tx(ctx, "Store.ReplaceSummary", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`,
			summary, formatTime(s.now()), conversationID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NewDomainError("Store.ReplaceSummary", domain.ErrConversationNotFound, conversationID)
		}
		if len(deleteIDs) == 0 {
			return nil
		}
		args := make([]any, 0, len(deleteIDs)+1)
		args = append(args, conversationID)
		for _, id := range deleteIDs {
			args = append(args, id)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_id = ? AND id IN (`+placeholders(len(deleteIDs))+`)`,
			args...,
		)
		return err
	})
}

func (s *DB) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		c                   domain.Conversation
		status, state       string
		meta, parts         string
		lastPing            sql.NullString
		createdAt, updateAt string
	)
	if err := row.Scan(&c.ID, &c.AgentID, &c.Title, &status, &c.Summary, &meta, &parts,
		&state, &c.Depth, &lastPing, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	c.Status = domain.ConversationStatus(status)
	c.State = domain.CycleState(state)
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(parts, &c.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	c.LastPingAt = parseNullTime(lastPing)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updateAt)
	return &c, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m                 domain.Message
		calls, images, ts string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Name, &calls,
		&m.ToolCallID, &images, &m.Sentiment, &ts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(calls, &m.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	if err := unmarshalJSON(images, &m.Images); err != nil {
		return nil, fmt.Errorf("unmarshal images: %w", err)
	}
	m.CreatedAt = parseTime(ts)
	return &m, nil
}
