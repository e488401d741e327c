package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certhub/mailer/internal/domain"
)

// Memory is an in-process Ledger used by unit tests and single-node
// development setups. Production runs use the Postgres implementation in
// repository/postgres.
type Memory struct {
	mu       sync.Mutex
	attempts map[string][]domain.DeliveryAttempt // campaignID -> append order
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{attempts: make(map[string][]domain.DeliveryAttempt)}
}

// RecordAttempt appends one attempt, assigning an id and timestamp if the
// caller left them zero.
func (m *Memory) RecordAttempt(_ context.Context, att *domain.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *att
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.AttemptedAt.IsZero() {
		cp.AttemptedAt = time.Now().UTC()
	}
	m.attempts[cp.CampaignID] = append(m.attempts[cp.CampaignID], cp)
	return nil
}

// LatestStatus returns the most recent attempt's status for the recipient.
func (m *Memory) LatestStatus(_ context.Context, campaignID, email string) (domain.AttemptStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.attempts[campaignID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].RecipientEmail == email {
			return rows[i].Status, nil
		}
	}
	return "", ErrNoAttempts
}

// Aggregate counts each recipient's latest attempt status.
func (m *Memory) Aggregate(_ context.Context, campaignID string) (domain.AttemptCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]domain.AttemptStatus)
	for _, att := range m.attempts[campaignID] {
		latest[att.RecipientEmail] = att.Status
	}

	var counts domain.AttemptCounts
	for _, status := range latest {
		counts.Total++
		switch status {
		case domain.StatusPending:
			counts.Pending++
		case domain.StatusSent:
			counts.Sent++
		case domain.StatusDelivered:
			counts.Delivered++
		case domain.StatusBounced:
			counts.Bounced++
		case domain.StatusFailed:
			counts.Failed++
		case domain.StatusComplained:
			counts.Complained++
		}
	}
	return counts, nil
}

// FailedRecipients returns addresses whose latest attempt is failed, in
// the order their first attempt was recorded.
func (m *Memory) FailedRecipients(_ context.Context, campaignID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]domain.AttemptStatus)
	var order []string
	for _, att := range m.attempts[campaignID] {
		if _, seen := latest[att.RecipientEmail]; !seen {
			order = append(order, att.RecipientEmail)
		}
		latest[att.RecipientEmail] = att.Status
	}

	var failed []string
	for _, email := range order {
		if latest[email] == domain.StatusFailed {
			failed = append(failed, email)
		}
	}
	return failed, nil
}

// History returns all attempts for one recipient, oldest first.
func (m *Memory) History(_ context.Context, campaignID, email string) ([]domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DeliveryAttempt
	for _, att := range m.attempts[campaignID] {
		if att.RecipientEmail == email {
			out = append(out, att)
		}
	}
	return out, nil
}
