package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/token"
)

// CredentialRepo implements token.CredentialStore against PostgreSQL.
// One row per deployment, keyed by a fixed id; Save upserts it.
type CredentialRepo struct{ db *sql.DB }

// NewCredentialRepo creates a Postgres-backed credential store.
func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialID = "sending-account"

func (r *CredentialRepo) Load(ctx context.Context) (*domain.Credential, error) {
	cred := &domain.Credential{}
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, scopes, expiry
		FROM oauth_credentials
		WHERE id = $1
	`, credentialID).Scan(
		&cred.AccessToken, &cred.RefreshToken, &cred.TokenType,
		pq.Array(&cred.Scopes), &cred.Expiry,
	)
	if err == sql.ErrNoRows {
		return nil, token.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepo) Save(ctx context.Context, cred *domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_credentials
			(id, access_token, refresh_token, token_type, scopes, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scopes = EXCLUDED.scopes,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()
	`, credentialID, cred.AccessToken, cred.RefreshToken, cred.TokenType,
		pq.Array(cred.Scopes), cred.Expiry)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oauth_credentials WHERE id = $1`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
