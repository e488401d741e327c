package domain

import "time"

// AttemptStatus enumerates the outcome of a single delivery attempt.
// The engine only ever records StatusSent and StatusFailed itself;
// delivered/bounced/complained are written by an external
// delivery-notification consumer when one is wired up.
type AttemptStatus string

const (
	StatusPending    AttemptStatus = "pending"
	StatusSent       AttemptStatus = "sent"
	StatusDelivered  AttemptStatus = "delivered"
	StatusBounced    AttemptStatus = "bounced"
	StatusFailed     AttemptStatus = "failed"
	StatusComplained AttemptStatus = "complained"
)

// IsTerminal returns true if the status is a final outcome for the
// purposes of campaign completion accounting.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusBounced, StatusFailed, StatusComplained:
		return true
	}
	return false
}

// DeliveryAttempt is one recorded outcome of trying to send to one
// recipient at one point in time. Attempts are append-only: a retry
// creates a new row, it never mutates an earlier one. The most recent
// attempt for a (campaign, recipient) pair determines current status.
type DeliveryAttempt struct {
	ID             string        `json:"id" db:"id"`
	CampaignID     string        `json:"campaign_id" db:"campaign_id"`
	RecipientEmail string        `json:"recipient_email" db:"recipient_email"`
	RecipientName  string        `json:"recipient_name" db:"recipient_name"`
	Status         AttemptStatus `json:"status" db:"status"`
	MessageID      string        `json:"message_id" db:"message_id"`
	Error          string        `json:"error" db:"error"`
	AttemptedAt    time.Time     `json:"attempted_at" db:"attempted_at"`
}

// AttemptCounts aggregates ledger rows per latest status for one campaign.
type AttemptCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Bounced    int `json:"bounced"`
	Failed     int `json:"failed"`
	Complained int `json:"complained"`
}
