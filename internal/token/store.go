// Package token owns the OAuth credential for the mail-sending identity.
//
// There is exactly one credential per deployment. The store serves it from
// cache, refreshes it transparently when it nears expiry, and persists
// whichever credential is current. Refresh is single-flighted process-wide:
// concurrent callers observing an expired token collapse into one redemption
// of the refresh token, since some providers reject a refresh token after
// its first use.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/pkg/logger"
)

var (
	// ErrNoCredential is returned by CredentialStore implementations when
	// no credential has ever been saved.
	ErrNoCredential = errors.New("no credential stored")

	// ErrReauthenticationRequired means the credential is unrecoverable:
	// either none was ever stored, or the provider rejected the refresh
	// token. The operator must run the OAuth consent flow again. Callers
	// must abort their campaign with this error rather than fail each
	// recipient individually.
	ErrReauthenticationRequired = errors.New("re-authentication required: reconnect the sending account")
)

// CredentialStore persists the current credential. Implementations must be
// safe for concurrent use.
type CredentialStore interface {
	Load(ctx context.Context) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
	Delete(ctx context.Context) error
}

// Store serves the current OAuth credential, refreshing when needed.
type Store struct {
	creds  CredentialStore
	conf   *oauth2.Config
	margin time.Duration
	now    func() time.Time
	log    *logger.Logger

	mu     sync.RWMutex
	cached *domain.Credential
	group  singleflight.Group
}

// NewStore creates a token store. margin is subtracted from the token
// expiry when deciding whether the cached credential is still usable.
func NewStore(creds CredentialStore, conf *oauth2.Config, margin time.Duration) *Store {
	if margin <= 0 {
		margin = time.Minute
	}
	return &Store{
		creds:  creds,
		conf:   conf,
		margin: margin,
		now:    time.Now,
		log:    logger.With("token"),
	}
}

// Get returns a credential valid for at least the safety margin, refreshing
// it first if necessary. Returns ErrReauthenticationRequired if no credential
// was ever stored or the provider rejects the refresh token.
func (s *Store) Get(ctx context.Context) (*domain.Credential, error) {
	cred, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if cred.Valid(s.now(), s.margin) {
		return cred, nil
	}

	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Credential), nil
}

// Save stores a new credential, replacing the current one. Used by the
// OAuth-callback collaborator after the consent flow completes.
func (s *Store) Save(ctx context.Context, cred *domain.Credential) error {
	if err := s.creds.Save(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.mu.Lock()
	s.cached = cred
	s.mu.Unlock()
	return nil
}

// Clear revokes the stored credential (disconnect operation).
func (s *Store) Clear(ctx context.Context) error {
	if err := s.creds.Delete(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) current(ctx context.Context) (*domain.Credential, error) {
	s.mu.RLock()
	cred := s.cached
	s.mu.RUnlock()
	if cred != nil {
		return cred, nil
	}

	cred, err := s.creds.Load(ctx)
	if errors.Is(err, ErrNoCredential) {
		return nil, ErrReauthenticationRequired
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	s.mu.Lock()
	s.cached = cred
	s.mu.Unlock()
	return cred, nil
}

// refresh redeems the refresh token for a new access token and persists
// the result. Runs inside the single-flight group.
func (s *Store) refresh(ctx context.Context) (*domain.Credential, error) {
	// A concurrent caller may already have refreshed while we waited.
	s.mu.RLock()
	cred := s.cached
	s.mu.RUnlock()
	if cred != nil && cred.Valid(s.now(), s.margin) {
		return cred, nil
	}
	if cred == nil || cred.RefreshToken == "" {
		return nil, ErrReauthenticationRequired
	}

	src := s.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			s.log.Warn("refresh token rejected", "status", re.Response.StatusCode)
			return nil, fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	next := &domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scopes:       cred.Scopes,
		Expiry:       tok.Expiry,
	}
	// Providers that rotate refresh tokens return a new one; the rest
	// expect us to keep using the original.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := s.creds.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}

	s.mu.Lock()
	s.cached = next
	s.mu.Unlock()

	s.log.Info("credential refreshed", "expiry", next.Expiry.Format(time.RFC3339))
	return next, nil
}
