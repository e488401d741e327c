package domain

import (
	"strings"
	"time"
)

// Credential is the OAuth token pair for the mail-sending identity.
// There is a single credential per deployment; it is owned and mutated
// only by the token store under its own serialization.
type Credential struct {
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	TokenType    string    `json:"token_type" db:"token_type"`
	Scopes       []string  `json:"scopes" db:"scopes"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
}

// Valid reports whether the access token is usable at the given instant,
// leaving the given safety margin before the hard expiry.
func (c *Credential) Valid(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && now.Before(c.Expiry.Add(-margin))
}

// ScopeString returns the scopes as a single space-separated value, the
// form OAuth providers use on the wire.
func (c *Credential) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}
