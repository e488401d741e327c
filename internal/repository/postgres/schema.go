package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. batch_recipients is owned by
// the participant-management side; it is created here too so a fresh
// deployment works standalone.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id               TEXT PRIMARY KEY,
		batch_id         TEXT NOT NULL,
		subject          TEXT NOT NULL,
		body_template    TEXT NOT NULL,
		from_name        TEXT NOT NULL DEFAULT '',
		from_email       TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'draft'
			CHECK (status IN ('draft','scheduled','sending','completed','failed','cancelled')),
		total_recipients INTEGER NOT NULL DEFAULT 0,
		sent_count       INTEGER NOT NULL DEFAULT 0,
		delivered_count  INTEGER NOT NULL DEFAULT 0,
		failed_count     INTEGER NOT NULL DEFAULT 0,
		scheduled_at     TIMESTAMPTZ,
		started_at       TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status)`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled
		ON campaigns (scheduled_at) WHERE status = 'scheduled'`,

	`CREATE TABLE IF NOT EXISTS delivery_attempts (
		id              TEXT PRIMARY KEY,
		campaign_id     TEXT NOT NULL REFERENCES campaigns(id),
		recipient_email TEXT NOT NULL,
		recipient_name  TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL
			CHECK (status IN ('pending','sent','delivered','bounced','failed','complained')),
		message_id      TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		attempted_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_campaign_recipient
		ON delivery_attempts (campaign_id, recipient_email, attempted_at DESC)`,

	`CREATE TABLE IF NOT EXISTS oauth_credentials (
		id            TEXT PRIMARY KEY,
		access_token  TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		token_type    TEXT NOT NULL DEFAULT 'Bearer',
		scopes        TEXT[] NOT NULL DEFAULT '{}',
		expiry        TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS batch_recipients (
		batch_id       TEXT NOT NULL,
		email          TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		fields         JSONB NOT NULL DEFAULT '{}',
		attachment_ref TEXT NOT NULL DEFAULT '',
		position       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (batch_id, email)
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
