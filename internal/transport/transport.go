// Package transport sends one fully-resolved message at a time to the
// configured mail provider. Transports are deliberately narrow: batching,
// rate limiting, and outcome recording all live in the campaign scheduler.
package transport

import (
	"context"
	"errors"

	"github.com/certhub/mailer/internal/domain"
)

// ErrSendRejected wraps provider-side rejections of a single message.
// It is always handled per-recipient by the scheduler and never aborts
// a campaign.
var ErrSendRejected = errors.New("message rejected by provider")

// Transport sends a single message. Implementations must be safe for
// concurrent use and must honor ctx cancellation and deadlines.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// TokenSource supplies a live OAuth credential for transports that
// authenticate with bearer tokens. token.Store satisfies this.
type TokenSource interface {
	Get(ctx context.Context) (*domain.Credential, error)
}
