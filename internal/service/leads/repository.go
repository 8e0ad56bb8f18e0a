package leads

import (
	"context"

	"github.com/lettora/crm-engine/internal/domain"
)

// Repository defines the data access contract for leads.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single lead. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Lead, error)

	// List returns leads matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Lead, int, error)

	// Create inserts a new lead and returns its ID.
	Create(ctx context.Context, l *domain.Lead) (string, error)

	// Update persists the lead's current mutable fields.
	Update(ctx context.Context, l *domain.Lead) error

	// Delete removes a lead. Activity records cascade.
	Delete(ctx context.Context, id string) error

	// AppendActivity writes one append-only activity record.
	AppendActivity(ctx context.Context, a *domain.LeadActivity) error

	// ListActivities returns a lead's activity log, newest first.
	ListActivities(ctx context.Context, leadID string, limit int) ([]domain.LeadActivity, error)
}

// ListFilter controls pagination and filtering for lead lists.
type ListFilter struct {
	Status    string
	Source    string
	Qualified *bool
	Search    string
	Limit     int
	Offset    int
}

// TaskCreator is the collaborator that receives follow-up tasks when a
// lead crosses the qualification threshold. Task storage lives outside
// this engine.
type TaskCreator interface {
	CreateTask(ctx context.Context, task *domain.FollowUpTask) error
}
