package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound     = errors.New("campaign not found")
	ErrInvalidState = errors.New("campaign is not in a valid state for this operation")
	ErrNoRecipients = errors.New("campaign has no recipients")
	ErrCancelled    = errors.New("campaign send cancelled")
)
