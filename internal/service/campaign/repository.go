package campaign

import (
	"context"
	"time"

	"github.com/lettora/crm-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies a campaign. Only non-nil fields in the update are applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a campaign.
	Delete(ctx context.Context, id string) error

	// TransitionStatus atomically moves the campaign to next, guarded by
	// the allowed set. Returns false when the row was not in an allowed
	// status (lost a race or illegal transition), without mutating.
	TransitionStatus(ctx context.Context, id string, allowed []domain.CampaignStatus, next domain.CampaignStatus, stamps Stamps) (bool, error)

	// SetABTest stores the campaign's A/B settings.
	SetABTest(ctx context.Context, id string, settings *domain.ABTestSettings) error

	// SetABWinner records the evaluated winner variant.
	SetABWinner(ctx context.Context, id string, variant string) error

	// VariantMetrics aggregates sent/opened/clicked per variant over the
	// campaign's email records.
	VariantMetrics(ctx context.Context, campaignID string) ([]VariantMetrics, error)

	// ListDue returns SCHEDULED campaigns whose send time is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]domain.Campaign, error)
}

// Stamps carries the date fields set alongside a status transition.
type Stamps struct {
	StartDate *time.Time
	EndDate   *time.Time
	UpdatedAt time.Time
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Type   string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name           *string
	Type           *domain.CampaignType
	TemplateID     *string
	TargetAudience *domain.TargetAudience
	Content        *domain.CampaignContent
	Schedule       *domain.CampaignSchedule
	TrackOpens     *bool
	TrackClicks    *bool
	Status         *domain.CampaignStatus
}

// isStatusOnly reports whether the update carries nothing but a status.
func (u UpdateFields) isStatusOnly() bool {
	return u.Status != nil && u.Name == nil && u.Type == nil &&
		u.TemplateID == nil && u.TargetAudience == nil && u.Content == nil &&
		u.Schedule == nil && u.TrackOpens == nil && u.TrackClicks == nil
}

// VariantMetrics is the per-variant aggregation consumed by the A/B
// evaluator.
type VariantMetrics struct {
	Variant   string  `json:"variant"`
	Sent      int     `json:"sent"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}
