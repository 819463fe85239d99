package store

import "context"

// Schema is the DDL for the domain tables. Applied idempotently at startup;
// there is no migration history to preserve yet.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	full_name     TEXT NOT NULL,
	avatar_url    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS boards (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT,
	owner_id    TEXT NOT NULL REFERENCES profiles(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS board_members (
	board_id  TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL REFERENCES profiles(id),
	role      TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (board_id, user_id)
);

CREATE TABLE IF NOT EXISTS join_requests (
	id         TEXT PRIMARY KEY,
	board_id   TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL REFERENCES profiles(id),
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	board_id    TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	description TEXT,
	status      TEXT NOT NULL,
	assigned_to TEXT,
	created_by  TEXT NOT NULL,
	position    INTEGER NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS comments (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL REFERENCES profiles(id),
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_board ON tasks(board_id);
CREATE INDEX IF NOT EXISTS idx_join_requests_board ON join_requests(board_id, status);
CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id);
`

// EnsureSchema creates the tables if they do not already exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
