package store

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	workspace_root TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('created','active','paused','terminated','interrupted')),
	prompt TEXT,
	mode TEXT NOT NULL CHECK (mode IN ('remote','local','hybrid')),
	last_tool TEXT,
	nudge_count INTEGER NOT NULL DEFAULT 0,
	stall_paused INTEGER NOT NULL DEFAULT 0,
	progress_snapshot TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	terminated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS approval_requests (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	title TEXT NOT NULL,
	description TEXT,
	diff_content TEXT NOT NULL,
	file_path TEXT NOT NULL,
	risk_level TEXT NOT NULL CHECK (risk_level IN ('low','high','critical')),
	status TEXT NOT NULL CHECK (status IN ('pending','approved','rejected','expired','consumed','interrupted')),
	original_hash TEXT NOT NULL,
	chat_message_ref TEXT,
	created_at TIMESTAMP NOT NULL,
	consumed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approval_requests_session ON approval_requests(session_id);

CREATE TABLE IF NOT EXISTS continuation_prompts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	prompt_text TEXT NOT NULL,
	prompt_type TEXT NOT NULL CHECK (prompt_type IN ('continuation','clarification','error_recovery','resource_warning')),
	elapsed_seconds INTEGER,
	actions_taken TEXT,
	decision TEXT CHECK (decision IS NULL OR decision IN ('continue','refine','stop')),
	instruction TEXT,
	chat_message_ref TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_continuation_prompts_session ON continuation_prompts(session_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	label TEXT,
	session_state TEXT NOT NULL,
	file_hashes TEXT NOT NULL DEFAULT '{}',
	workspace_root TEXT NOT NULL,
	progress_snapshot TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);

CREATE TABLE IF NOT EXISTS stall_alerts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	last_tool TEXT,
	last_activity_at TIMESTAMP NOT NULL,
	idle_seconds INTEGER NOT NULL,
	nudge_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK (status IN ('pending','nudged','self_recovered','escalated','dismissed')),
	nudge_message TEXT,
	progress_snapshot TEXT NOT NULL DEFAULT '[]',
	chat_message_ref TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stall_alerts_session ON stall_alerts(session_id);

CREATE TABLE IF NOT EXISTS steering_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	channel TEXT,
	message TEXT NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('chat','ipc')),
	created_at TIMESTAMP NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_steering_messages_session ON steering_messages(session_id);

CREATE TABLE IF NOT EXISTS task_inbox_items (
	id TEXT PRIMARY KEY,
	channel TEXT,
	message TEXT NOT NULL,
	source TEXT NOT NULL CHECK (source IN ('chat','ipc')),
	created_at TIMESTAMP NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0
);
`

// initSchema applies the idempotent bootstrap schema. Safe to call on
// every startup: every statement is CREATE TABLE/INDEX IF NOT EXISTS, so
// there is no migration step and no incompatible-release concern (the
// spec's non-goals explicitly exclude schema migration across releases).
func (s *Store) initSchema() error {
	_, err := s.pool.Writer().Exec(schema)
	return err
}
