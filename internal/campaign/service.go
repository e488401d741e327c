package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/certhub/mailer/internal/domain"
	"github.com/certhub/mailer/internal/ledger"
	"github.com/certhub/mailer/internal/pkg/logger"
	"github.com/certhub/mailer/internal/template"
	"github.com/certhub/mailer/internal/token"
	"github.com/certhub/mailer/internal/transport"
)

// Config holds the send-path tuning knobs. The defaults are conservative:
// small sequential batches with a pause in between keep us under
// provider-side per-second caps.
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	SendTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

// Deps collects the collaborators the service coordinates.
type Deps struct {
	Repo      Repository
	Source    RecipientSource
	Resolver  AttachmentResolver // optional; nil means attachments are never resolved
	Ledger    ledger.Ledger
	Transport transport.Transport
	Tokens    transport.TokenSource
	Renderer  *template.Renderer
}

// Service implements the campaign scheduler: lifecycle transitions, batched
// dispatch, outcome recording, and progress reporting. All public methods
// are safe for concurrent use; operations against the same campaign are
// serialized through the persisted status acting as a lock.
type Service struct {
	repo      Repository
	source    RecipientSource
	resolver  AttachmentResolver
	ledger    ledger.Ledger
	transport transport.Transport
	tokens    transport.TokenSource
	renderer  *template.Renderer
	cfg       Config
	progress  *ProgressNotifier
	log       *logger.Logger

	mu      sync.Mutex
	cancels map[string]*atomic.Bool
}

// NewService creates a campaign service.
func NewService(deps Deps, cfg Config) *Service {
	return &Service{
		repo:      deps.Repo,
		source:    deps.Source,
		resolver:  deps.Resolver,
		ledger:    deps.Ledger,
		transport: deps.Transport,
		tokens:    deps.Tokens,
		renderer:  deps.Renderer,
		cfg:       cfg.withDefaults(),
		progress:  NewProgressNotifier(),
		log:       logger.With("campaign"),
		cancels:   make(map[string]*atomic.Bool),
	}
}

// Progress exposes the notifier so callers can subscribe to batch events.
func (s *Service) Progress() *ProgressNotifier { return s.progress }

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	BatchID      string     `json:"batch_id"`
	Subject      string     `json:"subject"`
	BodyTemplate string     `json:"body_template"`
	FromName     string     `json:"from_name"`
	FromEmail    string     `json:"from_email"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

// Create validates and persists a new campaign. A future scheduled_at puts
// the campaign in scheduled; otherwise it starts in draft.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.BatchID == "" {
		return nil, fmt.Errorf("batch_id is required")
	}
	if input.Subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if input.BodyTemplate == "" {
		return nil, fmt.Errorf("body_template is required")
	}
	if input.FromEmail == "" {
		return nil, fmt.Errorf("from_email is required")
	}
	if err := s.renderer.Validate(input.Subject); err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}
	if err := s.renderer.Validate(input.BodyTemplate); err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}

	c := &domain.Campaign{
		ID:           uuid.New().String(),
		BatchID:      input.BatchID,
		Subject:      input.Subject,
		BodyTemplate: input.BodyTemplate,
		FromName:     input.FromName,
		FromEmail:    input.FromEmail,
		Status:       domain.CampaignDraft,
		ScheduledAt:  input.ScheduledAt,
	}
	if input.ScheduledAt != nil && input.ScheduledAt.After(time.Now()) {
		c.Status = domain.CampaignScheduled
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Result summarizes a completed send.
type Result struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Send dispatches the campaign to its full recipient batch.
//
// Exactly one caller can win the transition into sending; concurrent sends
// of the same campaign fail with ErrInvalidState. Setup failures (batch
// cannot be loaded, empty batch, unrecoverable credential) mark the
// campaign failed before any attempt is recorded. Per-recipient failures
// are recorded in the ledger and never abort the campaign; only a ledger
// write failure does, since sending without an audit trail would corrupt
// delivery accounting.
func (s *Service) Send(ctx context.Context, id string) (*Result, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sendable := []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled}
	if err := s.repo.Transition(ctx, id, sendable, domain.CampaignSending); err != nil {
		return nil, err
	}
	flag := s.registerCancel(id)
	defer s.clearCancel(id)

	recipients, err := s.source.Load(ctx, c.BatchID)
	if err != nil {
		s.fail(ctx, id)
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		s.fail(ctx, id)
		return nil, ErrNoRecipients
	}

	// Fail fast on an unrecoverable credential before any attempt rows
	// exist, so the operator sees one actionable error instead of a
	// per-recipient failure wall.
	if s.tokens != nil {
		if _, err := s.tokens.Get(ctx); err != nil {
			s.fail(ctx, id)
			return nil, err
		}
	}

	if err := s.repo.SetTotalRecipients(ctx, id, len(recipients)); err != nil {
		s.fail(ctx, id)
		return nil, err
	}

	s.log.Info("campaign sending", "campaign", id, "recipients", len(recipients),
		"batch_size", s.cfg.BatchSize)

	total := len(recipients)
	processed, succeeded := 0, 0
	for start := 0; start < total; start += s.cfg.BatchSize {
		if start > 0 {
			if err := s.pause(ctx, s.cfg.BatchDelay); err != nil {
				s.fail(ctx, id)
				return nil, err
			}
		}
		// Cooperative cancellation point: a cancel request takes effect
		// within one batch's worth of sends.
		if flag.Load() {
			if err := s.repo.Transition(ctx, id,
				[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignCancelled); err != nil {
				return nil, err
			}
			s.log.Info("campaign cancelled", "campaign", id, "processed", processed)
			return nil, ErrCancelled
		}

		end := min(start+s.cfg.BatchSize, total)
		for _, rec := range recipients[start:end] {
			status, err := s.sendOne(ctx, c, rec)
			if err != nil {
				s.fail(ctx, id)
				return nil, err
			}
			processed++
			if status == domain.StatusSent {
				succeeded++
			}
		}

		s.progress.Publish(ProgressEvent{
			CampaignID: id, Processed: processed, Total: total, Succeeded: succeeded,
		})
	}

	return s.finalize(ctx, id, total)
}

// finalize recomputes counters from the ledger (never from in-memory
// accumulation, to avoid drift from the persisted history) and marks the
// campaign completed.
func (s *Service) finalize(ctx context.Context, id string, total int) (*Result, error) {
	counts, err := s.ledger.Aggregate(ctx, id)
	if err != nil {
		s.fail(ctx, id)
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}
	if err := s.repo.SetCounters(ctx, id, counts); err != nil {
		s.fail(ctx, id)
		return nil, err
	}
	if err := s.repo.Transition(ctx, id,
		[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignCompleted); err != nil {
		return nil, err
	}

	result := &Result{
		Total:  total,
		Sent:   counts.Sent + counts.Delivered,
		Failed: counts.Failed + counts.Bounced + counts.Complained,
	}
	s.log.Info("campaign completed", "campaign", id,
		"sent", result.Sent, "failed", result.Failed)
	return result, nil
}

// sendOne runs the per-recipient path: render, resolve attachment, send,
// record. The returned error is nil except for campaign-aborting
// conditions (unrecoverable credential, ledger write failure); everything
// else is recorded as a failed attempt for that recipient.
func (s *Service) sendOne(ctx context.Context, c *domain.Campaign, rec domain.Recipient) (domain.AttemptStatus, error) {
	att := &domain.DeliveryAttempt{
		ID:             uuid.New().String(),
		CampaignID:     c.ID,
		RecipientEmail: rec.Email,
		RecipientName:  rec.Name,
		AttemptedAt:    time.Now().UTC(),
	}

	msg, err := s.resolveMessage(ctx, c, rec)
	if err != nil {
		att.Status = domain.StatusFailed
		att.Error = err.Error()
		return att.Status, s.record(ctx, att)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	result, err := s.transport.Send(sctx, msg)
	cancel()
	if err != nil {
		if errors.Is(err, token.ErrReauthenticationRequired) {
			return "", err
		}
		att.Status = domain.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			att.Error = fmt.Sprintf("send timed out after %s", s.cfg.SendTimeout)
		} else {
			att.Error = err.Error()
		}
		s.log.Warn("recipient send failed", "campaign", c.ID,
			"recipient_email", rec.Email, "error", att.Error)
		return att.Status, s.record(ctx, att)
	}

	att.Status = domain.StatusSent
	att.MessageID = result.MessageID
	return att.Status, s.record(ctx, att)
}

func (s *Service) resolveMessage(ctx context.Context, c *domain.Campaign, rec domain.Recipient) (*domain.EmailMessage, error) {
	fields := recipientContext(rec)

	subject, err := s.renderer.RenderSubject(c.Subject, fields)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	body, err := s.renderer.RenderHTML(c.BodyTemplate, fields)
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	msg := &domain.EmailMessage{
		CampaignID: c.ID,
		To:         rec.Email,
		ToName:     rec.Name,
		FromName:   c.FromName,
		FromEmail:  c.FromEmail,
		Subject:    subject,
		HTMLBody:   body,
	}

	if rec.AttachmentRef != "" && s.resolver != nil {
		attachment, err := s.resolver.Resolve(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment: %w", err)
		}
		msg.Attachment = attachment
	}
	return msg, nil
}

func (s *Service) record(ctx context.Context, att *domain.DeliveryAttempt) error {
	if err := s.ledger.RecordAttempt(ctx, att); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// recipientContext merges the recipient's substitution map with the
// built-in name and email variables. Explicit fields win.
func recipientContext(rec domain.Recipient) map[string]string {
	fields := make(map[string]string, len(rec.Fields)+2)
	fields["name"] = rec.Name
	fields["email"] = rec.Email
	for k, v := range rec.Fields {
		fields[k] = v
	}
	return fields
}

// StatusReport is the queryable view of a campaign, valid mid-send.
type StatusReport struct {
	Status   domain.CampaignStatus `json:"status"`
	Progress float64               `json:"progress"`
	Stats    domain.AttemptCounts  `json:"delivery_stats"`
}

// Status reports a campaign's current state and live delivery stats,
// aggregated from the ledger so mid-send queries see up-to-date numbers.
func (s *Service) Status(ctx context.Context, id string) (*StatusReport, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.ledger.Aggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}

	total := c.TotalRecipients
	if counts.Total > total {
		total = counts.Total
	}
	report := &StatusReport{Status: c.Status, Stats: counts}
	if total > 0 {
		done := counts.Sent + counts.Delivered + counts.Failed + counts.Bounced + counts.Complained
		report.Progress = float64(done) / float64(total) * 100
	}
	return report, nil
}

// Cancel stops a campaign. An in-flight send is cancelled cooperatively
// at the next batch boundary; a draft or scheduled campaign moves straight
// to cancelled. Campaigns already in a terminal state return
// ErrInvalidState.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	flag, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		flag.Store(true)
		return nil
	}
	return s.repo.Transition(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
		domain.CampaignCancelled)
}

// DispatchDue starts sends for scheduled campaigns whose time has arrived.
// Returns the number of campaigns dispatched. Intended to run on a ticker
// behind a distributed lock so only one node dispatches.
func (s *Service) DispatchDue(ctx context.Context) (int, error) {
	ids, err := s.repo.DueScheduled(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		id := id
		go func() {
			if _, err := s.Send(context.WithoutCancel(ctx), id); err != nil {
				// Another node may have claimed it first; that's normal.
				if !errors.Is(err, ErrInvalidState) {
					s.log.Error("scheduled send failed", "campaign", id, "error", err)
				}
			}
		}()
	}
	return len(ids), nil
}

// SendTest renders the campaign with placeholder data and sends a single
// message to the given address. Nothing is recorded in the ledger.
func (s *Service) SendTest(ctx context.Context, id, address string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	rec := domain.Recipient{
		Email: address,
		Name:  "Test Recipient",
		Fields: map[string]string{
			"certificate_id": "TEST-0000",
		},
	}
	msg, err := s.resolveMessage(ctx, c, rec)
	if err != nil {
		return err
	}
	msg.Subject = "[test] " + msg.Subject

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	_, err = s.transport.Send(sctx, msg)
	return err
}

func (s *Service) fail(ctx context.Context, id string) {
	err := s.repo.Transition(ctx, id,
		[]domain.CampaignStatus{domain.CampaignSending}, domain.CampaignFailed)
	if err != nil {
		s.log.Error("failed to mark campaign failed", "campaign", id, "error", err)
	}
}

// pause sleeps for the inter-batch delay, honoring context cancellation.
func (s *Service) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) registerCancel(id string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag := &atomic.Bool{}
	s.cancels[id] = flag
	return flag
}

func (s *Service) clearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}
