// Package ledger persists the append-only history of delivery attempts.
//
// One row is written per attempt to send to one recipient. Retries append
// new rows; nothing is ever updated or deleted, so the full audit trail
// survives. The most recent attempt for a (campaign, recipient) pair is
// what determines the recipient's current status.
package ledger

import (
	"context"
	"errors"

	"github.com/certhub/mailer/internal/domain"
)

var (
	// ErrPersistence wraps storage failures. The scheduler stops sending
	// when it sees this: continuing without recording outcomes would make
	// delivery accounting inconsistent.
	ErrPersistence = errors.New("delivery ledger unavailable")

	// ErrNoAttempts is returned by LatestStatus when a recipient has no
	// recorded attempts for the campaign.
	ErrNoAttempts = errors.New("no attempts recorded")
)

// Ledger is the data access contract for delivery attempts.
// Implementations must support safe concurrent appends from multiple
// campaigns.
type Ledger interface {
	// RecordAttempt appends one attempt. Never overwrites.
	RecordAttempt(ctx context.Context, att *domain.DeliveryAttempt) error

	// LatestStatus returns the most recent attempt's status for the
	// given recipient within the campaign.
	LatestStatus(ctx context.Context, campaignID, email string) (domain.AttemptStatus, error)

	// Aggregate returns per-status counts over each recipient's latest
	// attempt, plus the number of distinct recipients.
	Aggregate(ctx context.Context, campaignID string) (domain.AttemptCounts, error)

	// FailedRecipients returns, in first-attempt order, the addresses
	// whose latest attempt is failed. A recipient that later succeeded
	// never reappears here.
	FailedRecipients(ctx context.Context, campaignID string) ([]string, error)

	// History returns every attempt for one recipient in the campaign,
	// oldest first, for auditing.
	History(ctx context.Context, campaignID, email string) ([]domain.DeliveryAttempt, error)
}
