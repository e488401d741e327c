package domain

import "time"

// ProviderType identifies the mail provider used for sending.
type ProviderType string

const (
	ProviderGmail ProviderType = "gmail"
	ProviderSES   ProviderType = "ses"
)

// EmailMessage is the fully-resolved message ready for a transport.
// By the time a message reaches this struct, all template substitution
// and attachment resolution is complete.
type EmailMessage struct {
	CampaignID string      `json:"campaign_id"`
	To         string      `json:"to"`
	ToName     string      `json:"to_name"`
	FromName   string      `json:"from_name"`
	FromEmail  string      `json:"from_email"`
	Subject    string      `json:"subject"`
	HTMLBody   string      `json:"html_body"`
	TextBody   string      `json:"text_body"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// SendResult is returned by a transport after attempting delivery.
type SendResult struct {
	MessageID string       `json:"message_id"`
	Provider  ProviderType `json:"provider"`
	SentAt    time.Time    `json:"sent_at"`
}
