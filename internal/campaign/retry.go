package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/certhub/mailer/internal/domain"
)

// RetryOptions tunes a retry pass. Zero values fall back to the service
// configuration.
type RetryOptions struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"-"`
}

// RetrySummary reports the outcome of one retry pass.
type RetrySummary struct {
	Attempted    int      `json:"attempted"`
	Recovered    int      `json:"recovered"`
	StillFailing []string `json:"still_failing"`
	SuccessRate  float64  `json:"success_rate"`
}

// Retry re-sends to every recipient whose latest attempt failed, with
// exponential backoff between attempts for the same recipient.
//
// The failed set is snapshotted once at the start; outcomes recorded
// during the pass do not grow it. The campaign is moved back into
// sending for the duration, so a concurrent Send or Retry on the same
// campaign fails with ErrInvalidState. Each re-send appends a new ledger
// row; earlier failures stay in the history.
func (s *Service) Retry(ctx context.Context, id string, opts RetryOptions) (*RetrySummary, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.cfg.RetryMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = s.cfg.RetryBaseDelay
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	finished := []domain.CampaignStatus{domain.CampaignCompleted, domain.CampaignFailed}
	if err := s.repo.Transition(ctx, id, finished, domain.CampaignSending); err != nil {
		return nil, err
	}
	flag := s.registerCancel(id)
	defer s.clearCancel(id)

	failed, err := s.ledger.FailedRecipients(ctx, id)
	if err != nil {
		s.fail(ctx, id)
		return nil, fmt.Errorf("load failed recipients: %w", err)
	}
	if len(failed) == 0 {
		// Nothing to do; put the campaign back where we found it.
		if err := s.repo.Transition(ctx, id,
			[]domain.CampaignStatus{domain.CampaignSending}, c.Status); err != nil {
			return nil, err
		}
		return &RetrySummary{StillFailing: []string{}}, nil
	}

	byEmail, err := s.loadRecipientIndex(ctx, c.BatchID)
	if err != nil {
		s.fail(ctx, id)
		return nil, err
	}

	s.log.Info("campaign retrying", "campaign", id, "failed", len(failed),
		"max_attempts", opts.MaxAttempts)

	summary := &RetrySummary{Attempted: len(failed), StillFailing: []string{}}
	for _, email := range failed {
		if flag.Load() {
			if err := s.repo.Transition(ctx, id,
				[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignCancelled); err != nil {
				return nil, err
			}
			return nil, ErrCancelled
		}

		rec, ok := byEmail[email]
		if !ok {
			// The batch changed out from under us; retry with what the
			// ledger knows.
			rec = domain.Recipient{Email: email}
		}

		recovered, err := s.retryOne(ctx, c, rec, opts)
		if err != nil {
			s.fail(ctx, id)
			return nil, err
		}
		if recovered {
			summary.Recovered++
		} else {
			summary.StillFailing = append(summary.StillFailing, email)
		}
	}

	if _, err := s.finalize(ctx, id, c.TotalRecipients); err != nil {
		return nil, err
	}

	summary.SuccessRate = float64(summary.Recovered) / float64(summary.Attempted) * 100
	s.log.Info("campaign retry finished", "campaign", id,
		"recovered", summary.Recovered, "still_failing", len(summary.StillFailing))
	return summary, nil
}

// retryOne makes up to opts.MaxAttempts sends to one recipient, doubling
// the wait after each failure. Returns true once an attempt succeeds.
func (s *Service) retryOne(ctx context.Context, c *domain.Campaign, rec domain.Recipient, opts RetryOptions) (bool, error) {
	delay := opts.BaseDelay
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.pause(ctx, delay); err != nil {
				return false, err
			}
			delay *= 2
		}

		status, err := s.sendOne(ctx, c, rec)
		if err != nil {
			return false, err
		}
		if status == domain.StatusSent {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) loadRecipientIndex(ctx context.Context, batchID string) (map[string]domain.Recipient, error) {
	recipients, err := s.source.Load(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	byEmail := make(map[string]domain.Recipient, len(recipients))
	for _, rec := range recipients {
		byEmail[rec.Email] = rec
	}
	return byEmail, nil
}
