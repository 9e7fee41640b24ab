package store

import (
	"context"
	"database/sql"
	"time"

	"autopilot/internal/domain"
)

var _ domain.TraceStore = (*DB)(nil)

// OpenTrace records the start of a tool invocation in state executing.
func (s *DB) OpenTrace(ctx context.Context, t *domain.Trace) error {
	if t.ID == "" {
		t.ID = domain.NewID()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = s.now()
	}
	t.Status = domain.TraceExecuting
	input := string(t.Input)
	if input == "" {
		input = "{}"
	}
	return s.WithRetry(ctx, "Store.OpenTrace", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO traces (id, conversation_id, agent_id, tool_call_id, tool_name, input, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ConversationID, t.AgentID, t.ToolCallID, t.ToolName, input,
			string(t.Status), formatTime(t.StartedAt),
		)
		return err
	})
}

// CloseTrace records the outcome. Only executing traces can be closed.
func (s *DB) CloseTrace(ctx context.Context, t *domain.Trace) error {
	if t.FinishedAt.IsZero() {
		t.FinishedAt = s.now()
	}
	if t.Duration == 0 {
		t.Duration = t.FinishedAt.Sub(t.StartedAt)
	}
	kind := ""
	if t.Status == domain.TraceError {
		kind = t.ErrorKind.String()
	}
	var n int64
	err := s.WithRetry(ctx, "Store.CloseTrace", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE traces SET output = ?, status = ?, error_kind = ?, duration_ms = ?, finished_at = ?
			WHERE id = ? AND status = ?`,
			t.Output, string(t.Status), kind, t.Duration.Milliseconds(), formatTime(t.FinishedAt),
			t.ID, string(domain.TraceExecuting),
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
		return domain.NewDomainError("Store.CloseTrace", domain.ErrNotFound, "open trace "+t.ID)
	}
	return nil
}

// ListTraces returns the newest traces first. An empty conversationID lists
// traces across all conversations.
func (s *DB) ListTraces(ctx context.Context, conversationID string, limit int) ([]domain.Trace, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, conversation_id, agent_id, tool_call_id, tool_name, input, output, status,
		error_kind, duration_ms, started_at, finished_at FROM traces`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trace
	for rows.Next() {
		var (
			t                   domain.Trace
			input, status, kind string
			durMS               int64
			started             string
			finished            sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.AgentID, &t.ToolCallID, &t.ToolName,
			&input, &t.Output, &status, &kind, &durMS, &started, &finished); err != nil {
			return nil, err
		}
		t.Input = []byte(input)
		t.Status = domain.TraceStatus(status)
		if kind != "" {
			t.ErrorKind = domain.ParseErrorKind(kind)
		}
		t.Duration = time.Duration(durMS) * time.Millisecond
		t.StartedAt = parseTime(started)
		t.FinishedAt = parseNullTime(finished)
		out = append(out, t)
	}
	return out, rows.Err()
}
