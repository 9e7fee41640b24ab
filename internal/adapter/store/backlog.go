package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autopilot/internal/domain"
)

var _ domain.BacklogStore = (*DB)(nil)

const backlogColumns = `id, title, description, priority, status, agent_id, conversation_id, tags, created_at, updated_at`

// priorityOrder mirrors domain.Priority.Rank.
const priorityOrder = `CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END`

func (s *DB) CreateItem(ctx context.Context, item *domain.BacklogItem) error {
	if item.ID == "" {
		item.ID = domain.NewID()
	}
	if item.Priority == "" {
		item.Priority = domain.PriorityMedium
	}
	if item.Status == "" {
		item.Status = domain.BacklogTodo
	}
	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	tags, err := marshalJSON(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	return s.WithRetry(ctx, "Store.CreateItem", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO backlog_items (`+backlogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Title, item.Description, string(item.Priority), string(item.Status),
			item.AgentID, item.ConversationID, tags, formatTime(now), formatTime(now),
		)
		return err
	})
}

func (s *DB) GetItem(ctx context.Context, id string) (*domain.BacklogItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backlogColumns+` FROM backlog_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.GetItem", domain.ErrBacklogItemNotFound, id)
	}
	return item, err
}

func (s *DB) UpdateItem(ctx context.Context, item *domain.BacklogItem) error {
	tags, err := marshalJSON(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	item.UpdatedAt = s.now()
	var n int64
	err = s.WithRetry(ctx, "Store.UpdateItem", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE backlog_items SET title = ?, description = ?, priority = ?, status = ?,
				agent_id = ?, conversation_id = ?, tags = ?, updated_at = ?
			WHERE id = ?`,
			item.Title, item.Description, string(item.Priority), string(item.Status),
			item.AgentID, item.ConversationID, tags, formatTime(item.UpdatedAt), item.ID,
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
		return domain.NewDomainError("Store.UpdateItem", domain.ErrBacklogItemNotFound, item.ID)
	}
	return nil
}

func (s *DB) ListItems(ctx context.Context, f domain.BacklogFilter) ([]domain.BacklogItem, error) {
	query := `SELECT ` + backlogColumns + ` FROM backlog_items WHERE 1 = 1`
	var args []any
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	query += ` ORDER BY ` + priorityOrder + `, created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryItems(ctx, query, args...)
}

func (s *DB) CountActive(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backlog_items WHERE agent_id = ? AND status IN (?, ?)`,
		agentID, string(domain.BacklogTodo), string(domain.BacklogInProgress),
	).Scan(&n)
	return n, err
}

// AssignIfFree performs the busy check and the assignment in one statement,
// so two concurrent triage passes cannot both give work to the same agent.
func (s *DB) AssignIfFree(ctx context.Context, itemID, agentID string) error {
	var n int64
	err := s.WithRetry(ctx, "Store.AssignIfFree", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE backlog_items SET agent_id = ?, status = ?, updated_at = ?
			WHERE id = ? AND status != ?
			AND NOT EXISTS (
				SELECT 1 FROM backlog_items
				WHERE agent_id = ? AND status IN (?, ?) AND id != ?
			)`,
			agentID, string(domain.BacklogInProgress), formatTime(s.now()),
			itemID, string(domain.BacklogDone),
			agentID, string(domain.BacklogTodo), string(domain.BacklogInProgress), itemID,
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
	if n > 0 {
		return nil
	}
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return err
	}
	return domain.NewSubSystemError("triage", "Store.AssignIfFree", domain.ErrAgentBusy, agentID)
}

func (s *DB) ExistsOpen(ctx context.Context, title, snippet string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM backlog_items WHERE title = ? AND status != ? AND instr(description, ?) > 0 LIMIT 1`,
		title, string(domain.BacklogDone), snippet,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DB) StaleInProgress(ctx context.Context, before time.Time) ([]domain.BacklogItem, error) {
	return s.queryItems(ctx,
		`SELECT `+backlogColumns+` FROM backlog_items WHERE status = ? AND updated_at < ?
		ORDER BY updated_at`,
		string(domain.BacklogInProgress), formatTime(before),
	)
}

func (s *DB) queryItems(ctx context.Context, query string, args ...any) ([]domain.BacklogItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.BacklogItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*domain.BacklogItem, error) {
	var (
		item                   domain.BacklogItem
		priority, status, tags string
		created, updated       string
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &priority, &status,
		&item.AgentID, &item.ConversationID, &tags, &created, &updated); err != nil {
		return nil, err
	}
	item.Priority = domain.Priority(priority)
	item.Status = domain.BacklogStatus(status)
	if err := unmarshalJSON(tags, &item.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	return &item, nil
}
