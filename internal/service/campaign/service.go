package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/distlock"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// Resolver turns a targeting filter into a deduplicated recipient list.
type Resolver interface {
	Resolve(ctx context.Context, filter domain.TargetAudience) ([]domain.Recipient, error)
}

// Dispatcher sends a campaign to its resolved recipients. Dispatch
// creates the per-recipient records and attempts delivery; ProcessPending
// picks up records still pending (after a resume).
type Dispatcher interface {
	Dispatch(ctx context.Context, c *domain.Campaign, recipients []domain.Recipient) error
	ProcessPending(ctx context.Context, c *domain.Campaign) error
}

// Service implements the campaign lifecycle state machine. It coordinates
// the repository, the audience resolver and the dispatch pipeline, and
// serializes launches per campaign id through a distributed lock.
type Service struct {
	repo       Repository
	resolver   Resolver
	dispatcher Dispatcher
	locks      *distlock.Factory
	clock      clockwork.Clock
	lockTTL    time.Duration
}

// NewService creates a campaign service. resolver and dispatcher are
// required for Launch/Resume; locks may be nil for single-instance use.
func NewService(repo Repository, resolver Resolver, dispatcher Dispatcher, locks *distlock.Factory, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:       repo,
		resolver:   resolver,
		dispatcher: dispatcher,
		locks:      locks,
		clock:      clock,
		lockTTL:    5 * time.Minute,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Stats returns the campaign's raw counters and derived rates.
func (s *Service) Stats(ctx context.Context, id string) (*domain.Campaign, domain.CampaignStats, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, domain.CampaignStats{}, err
	}
	return c, c.CalculateStats(), nil
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name           string                  `json:"name" validate:"required"`
	Type           domain.CampaignType     `json:"type"`
	CreatedBy      string                  `json:"created_by"`
	TemplateID     string                  `json:"template_id"`
	TargetAudience domain.TargetAudience   `json:"target_audience"`
	Content        domain.CampaignContent  `json:"content"`
	Schedule       domain.CampaignSchedule `json:"schedule"`
	TrackOpens     *bool                   `json:"track_opens"`
	TrackClicks    *bool                   `json:"track_clicks"`
}

// Create validates and persists a new campaign in draft status.
// Tracking defaults to enabled for both opens and clicks.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
	}

	now := s.clock.Now().UTC()
	c := &domain.Campaign{
		ID:             uuid.New().String(),
		CreatedBy:      input.CreatedBy,
		Name:           input.Name,
		Type:           input.Type,
		Status:         domain.CampaignDraft,
		TargetAudience: input.TargetAudience,
		Content:        input.Content,
		Schedule:       input.Schedule,
		TrackOpens:     true,
		TrackClicks:    true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.Type == "" {
		c.Type = domain.CampaignTypeNewsletter
	}
	if input.TemplateID != "" {
		c.TemplateID = &input.TemplateID
	}
	if input.TrackOpens != nil {
		c.TrackOpens = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		c.TrackClicks = *input.TrackClicks
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update merges mutable fields into the campaign. While RUNNING the only
// accepted update is exactly a transition to paused; any other change is
// rejected without mutation.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.CampaignRunning {
		if u.isStatusOnly() && *u.Status == domain.CampaignPaused {
			if err := s.Pause(ctx, id); err != nil {
				return nil, err
			}
			return s.repo.Get(ctx, id)
		}
		return nil, &TransitionError{
			Current: c.Status,
			Action:  "update",
			Rule:    "running campaigns accept only a transition to paused",
		}
	}
	if c.IsTerminal() {
		return nil, &TransitionError{
			Current: c.Status,
			Action:  "update",
			Rule:    "terminal campaigns are immutable",
		}
	}

	// Status changes go through the dedicated transition methods, not a
	// field merge.
	u.Status = nil
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a campaign. Blocked while running.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignRunning {
		return &TransitionError{
			Current: c.Status,
			Action:  "delete",
			Rule:    "running campaigns cannot be deleted",
		}
	}
	return s.repo.Delete(ctx, id)
}

// Launch starts a campaign: validates preconditions, transitions to
// running, resolves the audience and fires the dispatch pipeline for the
// whole batch. Allowed only from draft, scheduled or paused. Launches are
// serialized per campaign id so a double-submitted launch cannot resolve
// the audience twice.
func (s *Service) Launch(ctx context.Context, id string) (*domain.Campaign, error) {
	lock := s.locks.ForCampaign(id, s.lockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire launch lock: %w", err)
	}
	if !ok {
		return nil, &TransitionError{
			Current: domain.CampaignRunning,
			Action:  "launch",
			Rule:    "a launch is already in progress for this campaign",
		}
	}
	defer func() {
		if rErr := lock.Release(context.WithoutCancel(ctx)); rErr != nil {
			logger.Warn("launch lock release failed", "campaign_id", id, "error", rErr)
		}
	}()

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled && c.Status != domain.CampaignPaused {
		return nil, &TransitionError{
			Current: c.Status,
			Action:  "launch",
			Rule:    "launch is allowed only from draft, scheduled or paused",
		}
	}
	if c.TemplateID == nil || *c.TemplateID == "" {
		return nil, &ValidationError{Field: "template_id", Message: "campaign has no email template"}
	}
	if c.TargetAudience.IsEmpty() {
		return nil, &ValidationError{Field: "target_audience", Message: "target audience is empty"}
	}

	prev := c.Status
	now := s.clock.Now().UTC()
	stamps := Stamps{UpdatedAt: now}
	if c.StartDate == nil {
		stamps.StartDate = &now
	}

	applied, err := s.repo.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignPaused},
		domain.CampaignRunning, stamps)
	if err != nil {
		return nil, fmt.Errorf("transition to running: %w", err)
	}
	if !applied {
		return nil, &TransitionError{Current: c.Status, Action: "launch", Rule: "status changed concurrently"}
	}
	c.Status = domain.CampaignRunning
	if c.StartDate == nil {
		c.StartDate = &now
	}

	recipients, err := s.resolver.Resolve(ctx, c.TargetAudience)
	if err != nil {
		s.rollbackStatus(ctx, id, prev)
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	if len(recipients) == 0 {
		s.rollbackStatus(ctx, id, prev)
		return nil, &ValidationError{Field: "target_audience", Message: "audience resolved to zero recipients"}
	}

	logger.Info("campaign launched", "campaign_id", id, "recipients", len(recipients))
	if err := s.dispatcher.Dispatch(ctx, c, recipients); err != nil {
		// Records already created keep their state; the campaign stays
		// running so a resume can process remaining pending sends.
		return c, fmt.Errorf("dispatch: %w", err)
	}
	return c, nil
}

func (s *Service) rollbackStatus(ctx context.Context, id string, prev domain.CampaignStatus) {
	_, err := s.repo.TransitionStatus(ctx, id,
		[]domain.CampaignStatus{domain.CampaignRunning}, prev,
		Stamps{UpdatedAt: s.clock.Now().UTC()})
	if err != nil {
		logger.Error("launch rollback failed", "campaign_id", id, "error", err)
	}
}

// Pause moves a running campaign to paused. The dispatch loop notices the
// status change cooperatively and stops claiming new pending records.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, "pause",
		[]domain.CampaignStatus{domain.CampaignRunning},
		domain.CampaignPaused,
		"pause is allowed only from running", Stamps{UpdatedAt: s.clock.Now().UTC()})
}

// Resume moves a paused campaign back to running and processes records
// still pending from the original launch. Audience and template were
// valid at launch; they are not re-validated.
func (s *Service) Resume(ctx context.Context, id string) error {
	err := s.transition(ctx, id, "resume",
		[]domain.CampaignStatus{domain.CampaignPaused},
		domain.CampaignRunning,
		"resume is allowed only from paused", Stamps{UpdatedAt: s.clock.Now().UTC()})
	if err != nil {
		return err
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.dispatcher.ProcessPending(ctx, c); err != nil {
		return fmt.Errorf("process pending: %w", err)
	}
	return nil
}

// Stop completes a campaign from any non-terminal state and stamps the
// end date. Stopping an already completed campaign is a no-op success;
// stopping a cancelled one is rejected.
func (s *Service) Stop(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignCompleted {
		return nil
	}
	if c.Status == domain.CampaignCancelled {
		return &TransitionError{Current: c.Status, Action: "stop", Rule: "cancelled campaigns cannot be completed"}
	}

	now := s.clock.Now().UTC()
	return s.transition(ctx, id, "stop",
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignRunning, domain.CampaignPaused},
		domain.CampaignCompleted,
		"stop requires a non-terminal status", Stamps{EndDate: &now, UpdatedAt: now})
}

// Cancel abandons a campaign from any non-terminal state. Unlike Stop it
// marks the campaign cancelled, which blocks any later completion.
func (s *Service) Cancel(ctx context.Context, id string) error {
	now := s.clock.Now().UTC()
	return s.transition(ctx, id, "cancel",
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignRunning, domain.CampaignPaused},
		domain.CampaignCancelled,
		"cancel requires a non-terminal status", Stamps{EndDate: &now, UpdatedAt: now})
}

// Schedule arms a draft campaign for a future launch by the scheduler.
// Recurrence settings already on the campaign are preserved.
func (s *Service) Schedule(ctx context.Context, id string, sendAt time.Time) error {
	if !sendAt.After(s.clock.Now()) {
		return &ValidationError{Field: "send_at", Message: "send time must be in the future"}
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	sched := c.Schedule
	sched.SendAt = &sendAt
	if err := s.repo.Update(ctx, id, UpdateFields{Schedule: &sched}); err != nil {
		return err
	}
	return s.transition(ctx, id, "schedule",
		[]domain.CampaignStatus{domain.CampaignDraft},
		domain.CampaignScheduled,
		"only draft campaigns can be scheduled", Stamps{UpdatedAt: s.clock.Now().UTC()})
}

// Rearm moves a recurring campaign that just finished a run back to
// scheduled with its next send time. Only running campaigns re-arm; a
// pause or cancel during the run wins.
func (s *Service) Rearm(ctx context.Context, id string, next time.Time) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	sched := c.Schedule
	sched.SendAt = &next
	if err := s.repo.Update(ctx, id, UpdateFields{Schedule: &sched}); err != nil {
		return err
	}
	return s.transition(ctx, id, "rearm",
		[]domain.CampaignStatus{domain.CampaignRunning},
		domain.CampaignScheduled,
		"re-arm is allowed only from running", Stamps{UpdatedAt: s.clock.Now().UTC()})
}

// transition performs a guarded status change, translating a failed guard
// into a TransitionError naming the rule.
func (s *Service) transition(ctx context.Context, id, action string, allowed []domain.CampaignStatus, next domain.CampaignStatus, rule string, stamps Stamps) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !statusIn(c.Status, allowed) {
		return &TransitionError{Current: c.Status, Action: action, Rule: rule}
	}

	applied, err := s.repo.TransitionStatus(ctx, id, allowed, next, stamps)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if !applied {
		return &TransitionError{Current: c.Status, Action: action, Rule: "status changed concurrently"}
	}
	logger.Info("campaign transition", "campaign_id", id, "action", action, "to", string(next))
	return nil
}

func statusIn(s domain.CampaignStatus, set []domain.CampaignStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
