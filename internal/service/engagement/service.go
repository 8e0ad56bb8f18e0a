// Package engagement records opens, clicks and delivery results against
// campaign email records. It is called from the public tracking surface,
// so every method absorbs missing records silently: the caller always
// produces its fixed passive response.
package engagement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mssola/useragent"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// ErrNotFound is returned by GetEmail for unknown records. The tracking
// paths never surface it.
var ErrNotFound = errors.New("campaign email not found")

// DeliveryError reports a delivery callback that cannot be applied.
type DeliveryError struct {
	Status  domain.EmailStatus
	Message string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery result %q rejected: %s", e.Status, e.Message)
}

// ActivityRecorder receives engagement events for the lead activity log.
// Satisfied by the leads service.
type ActivityRecorder interface {
	RecordEngagement(ctx context.Context, leadID string, typ domain.ActivityType, campaignID string)
}

// Metrics receives tracking hit counts. Satisfied by internal/metrics.
type Metrics interface {
	OpenRecorded(known bool)
	ClickRecorded(known bool)
}

// Service implements the engagement rules on top of the atomic
// repository. activities and metrics may be nil.
type Service struct {
	repo       Repository
	activities ActivityRecorder
	metrics    Metrics
	clock      clockwork.Clock
}

// NewService creates an engagement service.
func NewService(repo Repository, activities ActivityRecorder, metrics Metrics, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: repo, activities: activities, metrics: metrics, clock: clock}
}

// GetEmail returns one campaign email record.
func (s *Service) GetEmail(ctx context.Context, emailID string) (*domain.CampaignEmail, error) {
	return s.repo.GetEmail(ctx, emailID)
}

// RecordOpen registers an open hit. Unknown ids are absorbed: the pixel
// response must be identical either way. The campaign's opened counter
// moves only on the record's first open, so multiple preview-pane
// fetches count once at campaign level while open_count keeps the raw
// hit count.
func (s *Service) RecordOpen(ctx context.Context, emailID string) {
	ev, err := s.repo.RecordOpen(ctx, emailID, s.clock.Now().UTC())
	if err != nil {
		logger.Error("open recording failed", "email_id", emailID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.OpenRecorded(ev != nil)
	}
	if ev == nil {
		return
	}
	if ev.First {
		if err := s.repo.IncrementCampaignCounter(ctx, ev.CampaignID, "opened_count", 1); err != nil {
			logger.Error("opened counter increment failed", "campaign_id", ev.CampaignID, "error", err)
		}
		if s.activities != nil && ev.RecipientID != "" {
			s.activities.RecordEngagement(ctx, ev.RecipientID, domain.ActivityEmailOpened, ev.CampaignID)
		}
	}
}

// RecordClick registers a click hit with the client context appended to
// the record's click log. Unknown ids are absorbed: the redirect happens
// regardless.
func (s *Service) RecordClick(ctx context.Context, emailID, url, userAgent, ip string) {
	click := domain.ClickedLink{
		URL:       url,
		ClickedAt: s.clock.Now().UTC(),
		UserAgent: userAgent,
		Device:    detectDevice(userAgent),
		IPAddress: ip,
	}
	ev, err := s.repo.RecordClick(ctx, emailID, click)
	if err != nil {
		logger.Error("click recording failed", "email_id", emailID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ClickRecorded(ev != nil)
	}
	if ev == nil {
		return
	}
	if ev.First {
		if err := s.repo.IncrementCampaignCounter(ctx, ev.CampaignID, "clicked_count", 1); err != nil {
			logger.Error("clicked counter increment failed", "campaign_id", ev.CampaignID, "error", err)
		}
		if s.activities != nil && ev.RecipientID != "" {
			s.activities.RecordEngagement(ctx, ev.RecipientID, domain.ActivityEmailClicked, ev.CampaignID)
		}
	}
}

// deliveryCounters maps callback statuses to the campaign counter they
// move. Complaints share the bounced counter's terminality but have no
// dedicated aggregate.
var deliveryCounters = map[domain.EmailStatus]string{
	domain.EmailDelivered:    "delivered_count",
	domain.EmailBounced:      "bounced_count",
	domain.EmailUnsubscribed: "unsubscribed_count",
}

// RecordDeliveryResult applies a transport callback (delivered, bounced,
// complained, unsubscribed) keyed by the provider message id.
func (s *Service) RecordDeliveryResult(ctx context.Context, messageID string, status domain.EmailStatus, reason string) error {
	switch status {
	case domain.EmailDelivered, domain.EmailBounced, domain.EmailComplained, domain.EmailUnsubscribed:
	default:
		return &DeliveryError{Status: status, Message: "not a recognised delivery status"}
	}

	ev, err := s.repo.UpdateDeliveryStatus(ctx, messageID, status, reason, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if ev == nil {
		logger.Debug("delivery callback with unknown message id", "message_id", messageID)
		return nil
	}
	if counter, ok := deliveryCounters[status]; ok && ev.First {
		if err := s.repo.IncrementCampaignCounter(ctx, ev.CampaignID, counter, 1); err != nil {
			logger.Error("delivery counter increment failed", "campaign_id", ev.CampaignID, "error", err)
		}
	}
	return nil
}

// detectDevice classifies a user agent into desktop/mobile/tablet/bot.
func detectDevice(uaString string) string {
	if uaString == "" {
		return ""
	}
	ua := useragent.New(uaString)
	switch {
	case ua.Bot():
		return "bot"
	case ua.Mobile():
		return "mobile"
	default:
		return "desktop"
	}
}
