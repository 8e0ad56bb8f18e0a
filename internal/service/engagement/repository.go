package engagement

import (
	"context"
	"time"

	"github.com/lettora/crm-engine/internal/domain"
)

// Event is the outcome of applying an engagement mutation to a record.
// Nil events mean no record matched the id; tracking endpoints treat
// that silently.
type Event struct {
	EmailID     string
	CampaignID  string
	RecipientID string
	// First is true when this call set the record's first-event stamp.
	First bool
}

// Repository applies engagement mutations. Implementations must make
// every mutation a single atomic statement: counter bumps are
// `SET n = n + 1`, first-event stamps are COALESCE sets, and status
// advances are guarded so concurrent hits never lose an increment or
// downgrade a status.
type Repository interface {
	// RecordOpen applies the open rules to the record: increment
	// open_count, stamp opened_at, set first_opened_at once, advance
	// status to opened unless already past it. Returns nil when no
	// record matched.
	RecordOpen(ctx context.Context, emailID string, at time.Time) (*Event, error)

	// RecordClick applies the click rules and appends the click to the
	// record's clicked_links log. Returns nil when no record matched.
	RecordClick(ctx context.Context, emailID string, click domain.ClickedLink) (*Event, error)

	// UpdateDeliveryStatus applies a delivery-result callback keyed by
	// the transport message id. Terminal statuses stick; engagement
	// statuses only advance. Returns nil when no record matched.
	UpdateDeliveryStatus(ctx context.Context, messageID string, status domain.EmailStatus, reason string, at time.Time) (*Event, error)

	// IncrementCampaignCounter atomically bumps one campaign counter.
	IncrementCampaignCounter(ctx context.Context, campaignID, counter string, delta int) error

	// GetEmail returns one record for inspection endpoints.
	GetEmail(ctx context.Context, emailID string) (*domain.CampaignEmail, error)
}
