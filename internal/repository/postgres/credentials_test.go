package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/token"
)

func TestCredentialRepoLoad(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	expiry := time.Now().Add(time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM oauth_credentials").
		WithArgs("sending-account").
		WillReturnRows(sqlmock.NewRows([]string{
			"access_token", "refresh_token", "token_type", "scopes", "expiry",
		}).AddRow("at", "rt", "Bearer", pq.Array([]string{"gmail.send"}), expiry))

	cred, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.Equal(t, []string{"gmail.send"}, cred.Scopes)
}

func TestCredentialRepoLoadEmpty(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM oauth_credentials").
		WithArgs("sending-account").
		WillReturnRows(sqlmock.NewRows([]string{
			"access_token", "refresh_token", "token_type", "scopes", "expiry",
		}))

	_, err := repo.Load(context.Background())
	assert.ErrorIs(t, err, token.ErrNoCredential)
}

func TestCredentialRepoSaveUpserts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCredentialRepo(db)

	mock.ExpectExec("INSERT INTO oauth_credentials").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), &domain.Credential{
		AccessToken: "at2", RefreshToken: "rt", TokenType: "Bearer",
		Scopes: []string{"gmail.send"}, Expiry: time.Now().Add(time.Hour),
	})
	assert.NoError(t, err)
}

func TestRecipientRepoLoad(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewRecipientRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM batch_recipients").
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"email", "name", "fields", "attachment_ref"}).
			AddRow("ada@example.com", "Ada", []byte(`{"certificate_id":"CERT-1"}`), "cert-1").
			AddRow("bob@example.com", "Bob", []byte(`{}`), ""))

	out, err := repo.Load(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "CERT-1", out[0].Fields["certificate_id"])
	assert.Equal(t, "cert-1", out[0].AttachmentRef)
	assert.Empty(t, out[1].AttachmentRef)
}
