package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/certhub/mailer/internal/campaign"
	"github.com/certhub/mailer/internal/domain"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, batch_id, subject, body_template, from_name, from_email,
	       status, total_recipients, sent_count, delivered_count, failed_count,
	       scheduled_at, started_at, completed_at, created_at, updated_at`

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, batch_id, subject, body_template, from_name, from_email,
			 status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.BatchID, c.Subject, c.BodyTemplate, c.FromName, c.FromEmail,
		c.Status, c.ScheduledAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.BatchID, &c.Subject, &c.BodyTemplate, &c.FromName, &c.FromEmail,
		&c.Status, &c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.FailedCount,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns`
	var countArgs []interface{}
	if f.Status != "" {
		countQ += ` WHERE status = $1`
		countArgs = append(countArgs, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns`
	var args []interface{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(
			&c.ID, &c.BatchID, &c.Subject, &c.BodyTemplate, &c.FromName, &c.FromEmail,
			&c.Status, &c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.FailedCount,
			&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Transition atomically moves the campaign from one of the given statuses
// to the target. The WHERE clause is the lock: a concurrent caller whose
// expected status no longer holds updates zero rows and gets
// ErrInvalidState. Timestamps track entry into sending and terminal states.
func (r *CampaignRepo) Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1,
		    started_at = CASE WHEN $1 = 'sending' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, string(to), id, pq.Array(fromStr))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if n == 0 {
		// Distinguish a missing campaign from a lost race.
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return campaign.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("transition campaign: %w", err)
		}
		return fmt.Errorf("%w: %s cannot move to %s", campaign.ErrInvalidState, status, to)
	}
	return nil
}

func (r *CampaignRepo) SetTotalRecipients(ctx context.Context, id string, n int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET total_recipients = $1, updated_at = NOW() WHERE id = $2
	`, n, id)
	if err != nil {
		return fmt.Errorf("set total recipients: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) SetCounters(ctx context.Context, id string, counts domain.AttemptCounts) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count = $1, delivered_count = $2, failed_count = $3, updated_at = NOW()
		WHERE id = $4
	`, counts.Sent, counts.Delivered, counts.Failed+counts.Bounced+counts.Complained, id)
	if err != nil {
		return fmt.Errorf("set counters: %w", err)
	}
	return requireRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
