package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents one subject+template+recipient-batch unit of bulk
// sending. A campaign's status doubles as its concurrency lock: only an
// atomic transition into CampaignSending may start dispatching.
type Campaign struct {
	ID           string         `json:"id" db:"id"`
	BatchID      string         `json:"batch_id" db:"batch_id"`
	Subject      string         `json:"subject" db:"subject"`
	BodyTemplate string         `json:"body_template" db:"body_template"`
	FromName     string         `json:"from_name" db:"from_name"`
	FromEmail    string         `json:"from_email" db:"from_email"`
	Status       CampaignStatus `json:"status" db:"status"`

	// Counters (recomputed from the delivery ledger at completion)
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`

	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// Sendable returns true if a send may be started from the current status.
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// Progress returns the percentage of recipients with a recorded outcome.
func (c *Campaign) Progress() float64 {
	if c.TotalRecipients == 0 {
		return 0
	}
	done := c.SentCount + c.DeliveredCount + c.FailedCount
	return float64(done) / float64(c.TotalRecipients) * 100
}
