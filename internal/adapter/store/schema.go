package store

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		agent_id     TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'active',
		summary      TEXT NOT NULL DEFAULT '',
		metadata     TEXT NOT NULL DEFAULT '{}',
		participants TEXT NOT NULL DEFAULT '[]',
		state        TEXT NOT NULL DEFAULT 'idle',
		depth        INTEGER NOT NULL DEFAULT 0,
		last_ping_at TEXT,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		name            TEXT NOT NULL DEFAULT '',
		tool_calls      TEXT NOT NULL DEFAULT '[]',
		tool_call_id    TEXT NOT NULL DEFAULT '',
		images          TEXT NOT NULL DEFAULT '[]',
		sentiment       TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
		persona     TEXT NOT NULL DEFAULT '',
		personality TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL DEFAULT '',
		tools       TEXT NOT NULL DEFAULT '[]',
		step_budget INTEGER NOT NULL DEFAULT 0,
		color       TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS adaptations (
		id          TEXT PRIMARY KEY,
		agent_id    TEXT NOT NULL,
		instruction TEXT NOT NULL,
		weight      REAL NOT NULL DEFAULT 0,
		active      INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_adaptations_agent ON adaptations(agent_id, active, weight)`,
	`CREATE TABLE IF NOT EXISTS learning_examples (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		input           TEXT NOT NULL,
		output          TEXT NOT NULL,
		created_at      TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS traces (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		agent_id        TEXT NOT NULL DEFAULT '',
		tool_call_id    TEXT NOT NULL DEFAULT '',
		tool_name       TEXT NOT NULL,
		input           TEXT NOT NULL DEFAULT '{}',
		output          TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		error_kind      TEXT NOT NULL DEFAULT '',
		duration_ms     INTEGER NOT NULL DEFAULT 0,
		started_at      TEXT NOT NULL,
		finished_at     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_traces_conversation ON traces(conversation_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS backlog_items (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		priority        TEXT NOT NULL DEFAULT 'medium',
		status          TEXT NOT NULL DEFAULT 'todo',
		agent_id        TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '[]',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backlog_status ON backlog_items(status, agent_id)`,
	`CREATE TABLE IF NOT EXISTS scheduled_missions (
		id                  TEXT PRIMARY KEY,
		conversation_id     TEXT NOT NULL DEFAULT '',
		agent_id            TEXT NOT NULL DEFAULT '',
		prompt              TEXT NOT NULL,
		execute_at          TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'pending',
		result              TEXT NOT NULL DEFAULT '',
		run_conversation_id TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_missions_due ON scheduled_missions(status, execute_at)`,
	`CREATE TABLE IF NOT EXISTS cached_responses (
		hash        TEXT PRIMARY KEY,
		query       TEXT NOT NULL,
		response    TEXT NOT NULL,
		model       TEXT NOT NULL DEFAULT '',
		hits        INTEGER NOT NULL DEFAULT 0,
		last_hit_at TEXT,
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid         TEXT NOT NULL UNIQUE,
		queue        TEXT NOT NULL,
		kind         TEXT NOT NULL,
		payload      TEXT NOT NULL DEFAULT '{}',
		attempts     INTEGER NOT NULL DEFAULT 0,
		max_tries    INTEGER NOT NULL DEFAULT 1,
		timeout_ms   INTEGER NOT NULL DEFAULT 0,
		reserved_at  TEXT,
		available_at TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_reserve ON jobs(queue, reserved_at, available_at)`,
	`CREATE TABLE IF NOT EXISTS failed_jobs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid      TEXT NOT NULL UNIQUE,
		queue     TEXT NOT NULL,
		kind      TEXT NOT NULL,
		payload   TEXT NOT NULL DEFAULT '{}',
		exception TEXT NOT NULL,
		failed_at TEXT NOT NULL
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
