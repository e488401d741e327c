package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/certhub/mailer/internal/domain"
)

// memCreds is an in-memory credential store for unit testing.
type memCreds struct {
	mu   sync.Mutex
	cred *domain.Credential
}

func (m *memCreds) Load(_ context.Context) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, ErrNoCredential
	}
	cp := *m.cred
	return &cp, nil
}

func (m *memCreds) Save(_ context.Context, cred *domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cred
	m.cred = &cp
	return nil
}

func (m *memCreds) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

func tokenEndpoint(t *testing.T, refreshes *int32, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(refreshes, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func newTestStore(creds CredentialStore, tokenURL string) *Store {
	conf := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return NewStore(creds, conf, time.Minute)
}

func TestGetCachedCredential(t *testing.T) {
	var refreshes int32
	srv := tokenEndpoint(t, &refreshes, http.StatusOK, `{}`)
	defer srv.Close()

	creds := &memCreds{cred: &domain.Credential{
		AccessToken:  "live-token",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}}
	s := newTestStore(creds, srv.URL)

	cred, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-token", cred.AccessToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshes), "valid token must not trigger a refresh")
}

func TestGetRefreshesExpiredCredential(t *testing.T) {
	var refreshes int32
	srv := tokenEndpoint(t, &refreshes, http.StatusOK,
		`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	creds := &memCreds{cred: &domain.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}}
	s := newTestStore(creds, srv.URL)

	cred, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", cred.AccessToken)
	assert.Equal(t, "refresh", cred.RefreshToken, "original refresh token kept when provider does not rotate")
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	// The refreshed credential must be persisted, not just cached.
	stored, err := creds.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", stored.AccessToken)
}

func TestGetSingleFlightRefresh(t *testing.T) {
	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		time.Sleep(50 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	creds := &memCreds{cred: &domain.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}}
	s := newTestStore(creds, srv.URL)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Get(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes),
		"concurrent callers must collapse into one refresh")
}

func TestGetNoCredential(t *testing.T) {
	s := newTestStore(&memCreds{}, "http://unused.invalid/token")
	_, err := s.Get(context.Background())
	assert.ErrorIs(t, err, ErrReauthenticationRequired)
}

func TestGetRefreshRejected(t *testing.T) {
	var refreshes int32
	srv := tokenEndpoint(t, &refreshes, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	defer srv.Close()

	creds := &memCreds{cred: &domain.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}}
	s := newTestStore(creds, srv.URL)

	_, err := s.Get(context.Background())
	assert.ErrorIs(t, err, ErrReauthenticationRequired)
}

func TestSaveAndClear(t *testing.T) {
	creds := &memCreds{}
	s := newTestStore(creds, "http://unused.invalid/token")
	ctx := context.Background()

	cred := &domain.Credential{
		AccessToken:  "tok",
		RefreshToken: "ref",
		Expiry:       time.Now().Add(time.Hour),
	}
	require.NoError(t, s.Save(ctx, cred))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Get(ctx)
	assert.ErrorIs(t, err, ErrReauthenticationRequired)
}
