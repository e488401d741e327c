package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/ledger"
)

// LedgerRepo implements ledger.Ledger against PostgreSQL. Attempts are
// insert-only; latest-attempt semantics are expressed with DISTINCT ON.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed delivery ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) RecordAttempt(ctx context.Context, att *domain.DeliveryAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts
			(id, campaign_id, recipient_email, recipient_name, status,
			 message_id, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, att.ID, att.CampaignID, att.RecipientEmail, att.RecipientName,
		att.Status, att.MessageID, att.Error, att.AttemptedAt)
	if err != nil {
		return fmt.Errorf("%w: record attempt: %v", ledger.ErrPersistence, err)
	}
	return nil
}

func (r *LedgerRepo) LatestStatus(ctx context.Context, campaignID, email string) (domain.AttemptStatus, error) {
	var status domain.AttemptStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM delivery_attempts
		WHERE campaign_id = $1 AND recipient_email = $2
		ORDER BY attempted_at DESC, id DESC
		LIMIT 1
	`, campaignID, email).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ledger.ErrNoAttempts
	}
	if err != nil {
		return "", fmt.Errorf("%w: latest status: %v", ledger.ErrPersistence, err)
	}
	return status, nil
}

func (r *LedgerRepo) Aggregate(ctx context.Context, campaignID string) (domain.AttemptCounts, error) {
	var counts domain.AttemptCounts
	rows, err := r.db.QueryContext(ctx, `
		SELECT latest.status, COUNT(*)
		FROM (
			SELECT DISTINCT ON (recipient_email) status
			FROM delivery_attempts
			WHERE campaign_id = $1
			ORDER BY recipient_email, attempted_at DESC, id DESC
		) latest
		GROUP BY latest.status
	`, campaignID)
	if err != nil {
		return counts, fmt.Errorf("%w: aggregate attempts: %v", ledger.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.AttemptStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("%w: scan aggregate: %v", ledger.ErrPersistence, err)
		}
		counts.Total += n
		switch status {
		case domain.StatusPending:
			counts.Pending = n
		case domain.StatusSent:
			counts.Sent = n
		case domain.StatusDelivered:
			counts.Delivered = n
		case domain.StatusBounced:
			counts.Bounced = n
		case domain.StatusFailed:
			counts.Failed = n
		case domain.StatusComplained:
			counts.Complained = n
		}
	}
	return counts, rows.Err()
}

func (r *LedgerRepo) FailedRecipients(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (recipient_email) recipient_email, status
			FROM delivery_attempts
			WHERE campaign_id = $1
			ORDER BY recipient_email, attempted_at DESC, id DESC
		), first_seen AS (
			SELECT recipient_email, MIN(attempted_at) AS at
			FROM delivery_attempts
			WHERE campaign_id = $1
			GROUP BY recipient_email
		)
		SELECT latest.recipient_email
		FROM latest
		JOIN first_seen USING (recipient_email)
		WHERE latest.status = 'failed'
		ORDER BY first_seen.at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed recipients: %v", ledger.ErrPersistence, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("%w: scan recipient: %v", ledger.ErrPersistence, err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) History(ctx context.Context, campaignID, email string) ([]domain.DeliveryAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_email, recipient_name, status,
		       message_id, error, attempted_at
		FROM delivery_attempts
		WHERE campaign_id = $1 AND recipient_email = $2
		ORDER BY attempted_at, id
	`, campaignID, email)
	if err != nil {
		return nil, fmt.Errorf("%w: attempt history: %v", ledger.ErrPersistence, err)
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var att domain.DeliveryAttempt
		if err := rows.Scan(
			&att.ID, &att.CampaignID, &att.RecipientEmail, &att.RecipientName,
			&att.Status, &att.MessageID, &att.Error, &att.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan attempt: %v", ledger.ErrPersistence, err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}
