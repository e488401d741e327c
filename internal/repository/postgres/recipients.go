package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/certhub/mailer/internal/domain"
)

// RecipientRepo implements campaign.RecipientSource against PostgreSQL.
// Recipients live in a batch table owned by the participant-management
// side of the application; this repo only reads it. Per-recipient
// substitution fields are stored as a JSONB column.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient source.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

func (r *RecipientRepo) Load(ctx context.Context, batchID string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email, COALESCE(name,''), COALESCE(fields,'{}'), COALESCE(attachment_ref,'')
		FROM batch_recipients
		WHERE batch_id = $1
		ORDER BY position, email
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		var fields []byte
		if err := rows.Scan(&rec.Email, &rec.Name, &fields, &rec.AttachmentRef); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &rec.Fields); err != nil {
				return nil, fmt.Errorf("decode recipient fields for %s: %w", rec.Email, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
