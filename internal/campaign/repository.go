package campaign

import (
	"context"
	"time"

	"github.com/certhub/mailer/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, plus the
	// total match count for pagination.
	List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error)

	// Transition atomically moves the campaign from one of the given
	// statuses to the target status. The persisted status acts as the
	// campaign's concurrency lock: exactly one caller wins a contended
	// transition; the rest get ErrInvalidState. Implementations set
	// started_at when entering sending and completed_at when entering a
	// terminal status.
	Transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// SetTotalRecipients records the size of the loaded recipient set.
	SetTotalRecipients(ctx context.Context, id string, n int) error

	// SetCounters overwrites the campaign's aggregate counters, recomputed
	// from the delivery ledger.
	SetCounters(ctx context.Context, id string, counts domain.AttemptCounts) error

	// DueScheduled returns ids of scheduled campaigns whose scheduled_at
	// has arrived.
	DueScheduled(ctx context.Context, now time.Time) ([]string, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// RecipientSource loads the recipient batch for a campaign. Provided by
// participant/batch storage outside this engine.
type RecipientSource interface {
	Load(ctx context.Context, batchID string) ([]domain.Recipient, error)
}

// AttachmentResolver resolves a recipient's attachment reference to the
// blob to attach, or (nil, nil) when the recipient has none. Provided by
// the certificate-generation subsystem.
type AttachmentResolver interface {
	Resolve(ctx context.Context, rec domain.Recipient) (*domain.Attachment, error)
}
