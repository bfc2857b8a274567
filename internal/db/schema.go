package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the explicit table layout. Uniqueness of username and email
// is enforced here; the registrar treats a 23505 on these constraints as
// the authoritative duplicate signal.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                   BIGSERIAL PRIMARY KEY,
		username             TEXT        NOT NULL,
		email                TEXT        NOT NULL,
		credential           TEXT        NOT NULL,
		credential_algorithm TEXT        NOT NULL DEFAULT 'argon2id',
		roles                TEXT[]      NOT NULL DEFAULT '{}',
		status               TEXT        NOT NULL DEFAULT 'new',
		confirmed            BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ,
		CONSTRAINT users_username_uniq UNIQUE (username),
		CONSTRAINT users_email_uniq    UNIQUE (email)
	)`,
	`CREATE INDEX IF NOT EXISTS users_status_idx ON users (status)`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id          TEXT        PRIMARY KEY,
		user_id     BIGINT      NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		token_hash  TEXT        NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked_at  TIMESTAMPTZ,
		replaced_by TEXT,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT        PRIMARY KEY,
		type         TEXT        NOT NULL,
		payload      JSONB       NOT NULL,
		status       TEXT        NOT NULL DEFAULT 'pending',
		attempts     INT         NOT NULL DEFAULT 0,
		max_attempts INT         NOT NULL,
		run_at       TIMESTAMPTZ NOT NULL,
		locked_at    TIMESTAMPTZ,
		locked_by    TEXT,
		last_error   TEXT,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (status, run_at)`,
}

// EnsureSchema bootstraps the tables on startup. Statements are
// idempotent so repeated boots are safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
