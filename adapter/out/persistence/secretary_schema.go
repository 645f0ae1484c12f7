package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS properties (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		email        TEXT NOT NULL UNIQUE,
		phone        TEXT,
		unit         TEXT,
		property_id  BIGINT REFERENCES properties(id) ON DELETE SET NULL,
		rent         NUMERIC(12,2) NOT NULL DEFAULT 0,
		balance      NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tenants_email_lower ON tenants (LOWER(email))`,
	`CREATE TABLE IF NOT EXISTS maintenance_tickets (
		id           BIGSERIAL PRIMARY KEY,
		tenant_id    BIGINT NOT NULL REFERENCES tenants(id),
		property_id  BIGINT NOT NULL REFERENCES properties(id),
		issue        TEXT NOT NULL,
		priority     TEXT NOT NULL DEFAULT 'normal',
		status       TEXT NOT NULL DEFAULT 'open',
		dedup_key    TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS email_history (
		id                  UUID PRIMARY KEY,
		email_id            TEXT NOT NULL,
		category            TEXT NOT NULL,
		actions             JSONB NOT NULL DEFAULT '[]',
		response_generated  TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_history_email ON email_history (email_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		type         TEXT NOT NULL,
		title        TEXT NOT NULL,
		message      TEXT NOT NULL DEFAULT '',
		entity_type  TEXT,
		entity_id    TEXT,
		is_read      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, is_read, created_at DESC)`,
}

// Migrate creates the relational schema if missing.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
