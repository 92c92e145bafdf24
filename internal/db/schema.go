package db

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the tables the application needs if they do not exist
// yet. Statements are idempotent so startup is safe against an already
// provisioned database.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT,
			role TEXT NOT NULL DEFAULT 'student',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL UNIQUE,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS problem_sets (
			id BIGSERIAL PRIMARY KEY,
			set_code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			prompt TEXT NOT NULL,
			mcq_questions JSONB NOT NULL DEFAULT '[]'::jsonb,
			coding_question JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS test_sessions (
			id BIGSERIAL PRIMARY KEY,
			student_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			problem_set_id BIGINT NOT NULL REFERENCES problem_sets(id),
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			draft_answers JSONB NOT NULL DEFAULT '{}'::jsonb,
			question_attempts JSONB NOT NULL DEFAULT '[]'::jsonb,
			total_score INT NOT NULL DEFAULT 0,
			feedback TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// At most one active session per student, enforced at the store.
		`CREATE UNIQUE INDEX IF NOT EXISTS test_sessions_one_active
			ON test_sessions (student_id) WHERE NOT is_completed`,
		`CREATE INDEX IF NOT EXISTS test_sessions_problem_set
			ON test_sessions (problem_set_id)`,
		`CREATE TABLE IF NOT EXISTS contest_settings (
			id INT PRIMARY KEY DEFAULT 1,
			duration_minutes INT NOT NULL DEFAULT 60,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT contest_settings_singleton CHECK (id = 1)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
