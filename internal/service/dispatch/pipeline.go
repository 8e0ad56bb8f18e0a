// Package dispatch implements the email dispatch pipeline: per-recipient
// record creation, personalization, tracking injection and delivery
// through the transport collaborator.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// Mailer is the transport collaborator. Implementations live in
// internal/mailer; tests inject fakes.
type Mailer interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// PendingEmail is a claimable record joined with the recipient's name
// fields for personalization.
type PendingEmail struct {
	domain.CampaignEmail
	FirstName string
	LastName  string
}

// EmailRepository is the data access contract for campaign email records.
type EmailRepository interface {
	// CreatePending inserts a pending record unless one already exists
	// for (campaign, recipient email). Returns false when the record
	// already existed; the insert is the dispatch idempotency anchor.
	CreatePending(ctx context.Context, e *domain.CampaignEmail) (bool, error)

	// ListPending returns up to limit records still pending for the
	// campaign, joined with recipient names.
	ListPending(ctx context.Context, campaignID string, limit int) ([]PendingEmail, error)

	// MarkSent records a successful delivery attempt.
	MarkSent(ctx context.Context, id, messageID string, at time.Time) error

	// MarkFailed records a failed delivery attempt and bumps retry_count.
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error

	// IncrementCampaignCounter atomically bumps one campaign counter.
	IncrementCampaignCounter(ctx context.Context, campaignID, counter string, delta int) error
}

// StatusReader exposes the current campaign status for the cooperative
// pause check.
type StatusReader interface {
	GetStatus(ctx context.Context, campaignID string) (domain.CampaignStatus, error)
}

// TemplateStore resolves template references for campaign dispatch and
// the direct send operations.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
}

// Metrics receives send outcome counts. Satisfied by internal/metrics.
type Metrics interface {
	EmailSent(campaignID string)
	EmailFailed(campaignID string)
}

// Config tunes the pipeline.
type Config struct {
	// BatchSize bounds how many pending records one ListPending claim
	// returns.
	BatchSize int
	// PauseCheckInterval is how many recipients are processed between
	// campaign status re-reads.
	PauseCheckInterval int
}

// Pipeline sends campaigns. One Pipeline is shared by all campaigns;
// the per-recipient loop is sequential so the cooperative pause check
// has a well-defined position.
type Pipeline struct {
	emails    EmailRepository
	status    StatusReader
	templates TemplateStore
	mailer    Mailer
	tracking  TrackingURLs
	metrics   Metrics
	clock     clockwork.Clock
	cfg       Config
}

// NewPipeline creates a dispatch pipeline. metrics may be nil.
func NewPipeline(emails EmailRepository, status StatusReader, templates TemplateStore, mailer Mailer, tracking TrackingURLs, metrics Metrics, clock clockwork.Clock, cfg Config) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PauseCheckInterval <= 0 {
		cfg.PauseCheckInterval = 25
	}
	return &Pipeline{
		emails:    emails,
		status:    status,
		templates: templates,
		mailer:    mailer,
		tracking:  tracking,
		metrics:   metrics,
		clock:     clock,
		cfg:       cfg,
	}
}

// Dispatch creates one pending record per recipient, then processes the
// campaign's pending records. Re-dispatching is safe: records that
// already exist are skipped, and only records still pending are sent.
func (p *Pipeline) Dispatch(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) error {
	now := p.clock.Now().UTC()
	created := 0
	for _, r := range recipients {
		e := &domain.CampaignEmail{
			ID:             uuid.New().String(),
			CampaignID:     c.ID,
			RecipientID:    r.ID,
			RecipientEmail: r.Email,
			Status:         domain.EmailPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if c.ABTest != nil && c.ABTest.Enabled {
			e.Variant = SelectVariant(r.Email, c.ID, c.ABTest.Variants)
		}
		ok, err := p.emails.CreatePending(ctx, e)
		if err != nil {
			return fmt.Errorf("create pending record for %s: %w", r.ID, err)
		}
		if ok {
			created++
		}
	}
	logger.Info("dispatch records created", "campaign_id", c.ID, "recipients", len(recipients), "created", created)

	return p.ProcessPending(ctx, c)
}

// ProcessPending sends the campaign's pending records sequentially. The
// campaign's template reference is resolved once per run; if it cannot
// be resolved the pending records are marked failed rather than sent
// empty. The loop re-reads campaign status every PauseCheckInterval
// recipients and stops claiming new records once the campaign is no
// longer running. One recipient's transport failure never aborts the
// batch.
func (p *Pipeline) ProcessPending(ctx context.Context, c *domain.Campaign) error {
	base, err := p.campaignContent(ctx, c)
	if err != nil {
		logger.Error("campaign content unresolvable", "campaign_id", c.ID, "error", err)
		return p.failPending(ctx, c, err.Error())
	}

	processed := 0
	for {
		batch, err := p.emails.ListPending(ctx, c.ID, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for i := range batch {
			if processed > 0 && processed%p.cfg.PauseCheckInterval == 0 {
				status, err := p.status.GetStatus(ctx, c.ID)
				if err != nil {
					return fmt.Errorf("pause check: %w", err)
				}
				if status != domain.CampaignRunning {
					logger.Info("dispatch stopped cooperatively", "campaign_id", c.ID, "status", string(status), "processed", processed)
					return nil
				}
			}
			p.sendOne(ctx, c, base, &batch[i])
			processed++
		}

		if len(batch) < p.cfg.BatchSize {
			return nil
		}
	}
}

// sendOne personalizes, instruments and delivers a single record.
// Failures are recorded on the record, not returned.
func (p *Pipeline) sendOne(ctx context.Context, c *domain.Campaign, base domain.CampaignContent, e *PendingEmail) {
	subject, html, text := contentFor(c, base, e.Variant)

	data := map[string]string{
		"first_name": e.FirstName,
		"last_name":  e.LastName,
		"email":      e.RecipientEmail,
	}
	subject = Personalize(subject, data)
	html = Personalize(html, data)
	text = Personalize(text, data)

	if c.TrackClicks {
		html = p.tracking.RewriteLinks(html, e.ID)
	}
	if c.TrackOpens {
		html = p.tracking.InjectPixel(html, e.ID)
	}

	msg := &domain.EmailMessage{
		To:       e.RecipientEmail,
		Subject:  subject,
		HTMLBody: html,
		TextBody: text,
	}

	now := p.clock.Now().UTC()
	result, err := p.mailer.Send(ctx, msg)
	if err != nil || result == nil || !result.Success {
		reason := "transport reported failure"
		if err != nil {
			reason = err.Error()
		}
		if mErr := p.emails.MarkFailed(ctx, e.ID, reason, now); mErr != nil {
			logger.Error("mark failed errored", "email_id", e.ID, "error", mErr)
		}
		if p.metrics != nil {
			p.metrics.EmailFailed(c.ID)
		}
		logger.Warn("send failed", "campaign_id", c.ID, "recipient", e.RecipientEmail, "reason", reason)
		return
	}

	if err := p.emails.MarkSent(ctx, e.ID, result.MessageID, now); err != nil {
		logger.Error("mark sent errored", "email_id", e.ID, "error", err)
		return
	}
	if err := p.emails.IncrementCampaignCounter(ctx, c.ID, "sent_count", 1); err != nil {
		logger.Error("sent counter increment failed", "campaign_id", c.ID, "error", err)
	}
	if p.metrics != nil {
		p.metrics.EmailSent(c.ID)
	}
}

// campaignContent resolves the campaign's template reference and merges
// the campaign's inline content over it, inline fields winning so a
// campaign can override a shared template's subject or body.
func (p *Pipeline) campaignContent(ctx context.Context, c *domain.Campaign) (domain.CampaignContent, error) {
	base := c.Content
	if c.TemplateID == nil || *c.TemplateID == "" {
		return base, nil
	}
	tmpl, err := p.templates.GetTemplate(ctx, *c.TemplateID)
	if err != nil {
		return base, fmt.Errorf("resolve template %s: %w", *c.TemplateID, err)
	}
	if base.Subject == "" {
		base.Subject = tmpl.Subject
	}
	if base.HTMLBody == "" {
		base.HTMLBody = tmpl.HTMLBody
	}
	if base.TextBody == "" {
		base.TextBody = tmpl.TextBody
	}
	return base, nil
}

// failPending marks every pending record failed with the given reason.
// Used when the campaign's content cannot be resolved at all.
func (p *Pipeline) failPending(ctx context.Context, c *domain.Campaign, reason string) error {
	now := p.clock.Now().UTC()
	for {
		batch, err := p.emails.ListPending(ctx, c.ID, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := p.emails.MarkFailed(ctx, batch[i].ID, reason, now); err != nil {
				logger.Error("mark failed errored", "email_id", batch[i].ID, "error", err)
			}
			if p.metrics != nil {
				p.metrics.EmailFailed(c.ID)
			}
		}
		if len(batch) < p.cfg.BatchSize {
			return nil
		}
	}
}

// contentFor returns the subject and bodies for a record, applying the
// variant override when the record was assigned one.
func contentFor(c *domain.Campaign, base domain.CampaignContent, variant string) (subject, html, text string) {
	subject = base.Subject
	html = base.HTMLBody
	text = base.TextBody

	if variant == "" || c.ABTest == nil {
		return subject, html, text
	}
	for _, v := range c.ABTest.Variants {
		if v.Name == variant {
			if v.Subject != "" {
				subject = v.Subject
			}
			if v.HTMLBody != "" {
				html = v.HTMLBody
			}
			return subject, html, text
		}
	}
	return subject, html, text
}
