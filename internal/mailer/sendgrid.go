package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lettora/crm-engine/internal/config"
	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// SendGrid sends through the SendGrid v3 Mail Send API. Provider-side
// tracking is disabled for the same reason as SparkPost's.
type SendGrid struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

// NewSendGrid creates a SendGrid mailer.
func NewSendGrid(cfg config.SendGridConfig, from, fromName string) *SendGrid {
	return &SendGrid{
		client:   sendgrid.NewSendClient(cfg.APIKey),
		from:     from,
		fromName: fromName,
	}
}

func (s *SendGrid) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.from))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(p)

	if msg.TextBody != "" {
		m.AddContent(mail.NewContent("text/plain", msg.TextBody))
	}
	m.AddContent(mail.NewContent("text/html", msg.HTMLBody))

	tracking := mail.NewTrackingSettings()
	tracking.SetClickTracking(mail.NewClickTrackingSetting().SetEnable(false))
	tracking.SetOpenTracking(mail.NewOpenTrackingSetting().SetEnable(false))
	m.SetTrackingSettings(tracking)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		logger.Warn("sendgrid rejected message", "status", resp.StatusCode, "to", msg.To)
		return &domain.SendResult{Success: false},
			fmt.Errorf("sendgrid error %d: %s", resp.StatusCode, resp.Body)
	}

	messageID := ""
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	if messageID == "" {
		messageID = uuid.New().String()
	}
	return &domain.SendResult{Success: true, MessageID: messageID}, nil
}
