package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// Service implements lead business logic: intake, rescoring on mutation,
// qualification and the follow-up side effect. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo          Repository
	tasks         TaskCreator
	clock         clockwork.Clock
	followUpAfter int // hours until a qualification follow-up is due
}

// NewService creates a lead service. tasks may be nil, in which case
// qualification skips follow-up task creation.
func NewService(repo Repository, tasks TaskCreator, clock clockwork.Clock, followUpAfterHours int) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if followUpAfterHours <= 0 {
		followUpAfterHours = 72
	}
	return &Service{repo: repo, tasks: tasks, clock: clock, followUpAfter: followUpAfterHours}
}

// Get returns a single lead.
func (s *Service) Get(ctx context.Context, id string) (*domain.Lead, error) {
	return s.repo.Get(ctx, id)
}

// List returns leads matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Lead, int, error) {
	return s.repo.List(ctx, f)
}

// Activities returns a lead's activity log.
func (s *Service) Activities(ctx context.Context, leadID string, limit int) ([]domain.LeadActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListActivities(ctx, leadID, limit)
}

// CreateInput holds the fields for creating a new lead.
type CreateInput struct {
	FirstName    string                     `json:"first_name"`
	LastName     string                     `json:"last_name"`
	Email        string                     `json:"email"`
	Phone        string                     `json:"phone"`
	Company      string                     `json:"company"`
	JobTitle     string                     `json:"job_title"`
	Source       domain.LeadSource          `json:"source"`
	LeadType     string                     `json:"lead_type"`
	Location     string                     `json:"location"`
	Budget       *float64                   `json:"budget"`
	Preferences  domain.ContactPreferences  `json:"preferences"`
	Requirements domain.Requirements        `json:"requirements"`
	Tags         []string                   `json:"tags"`
	AssignedTo   string                     `json:"assigned_to"`
}

// Create validates, scores and persists a new lead.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Lead, error) {
	if input.Email == "" {
		return nil, fmt.Errorf("email is required")
	}

	now := s.clock.Now().UTC()
	l := &domain.Lead{
		ID:           uuid.New().String(),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		Phone:        input.Phone,
		Company:      input.Company,
		JobTitle:     input.JobTitle,
		Status:       domain.LeadNew,
		Source:       input.Source,
		LeadType:     input.LeadType,
		Location:     input.Location,
		Budget:       input.Budget,
		Preferences:  input.Preferences,
		Requirements: input.Requirements,
		Tags:         input.Tags,
		AssignedTo:   input.AssignedTo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	l.Score = Score(l)
	l.IsQualified = IsQualified(l.Score)

	id, err := s.repo.Create(ctx, l)
	if err != nil {
		return nil, err
	}
	l.ID = id

	s.logActivity(ctx, l.ID, domain.ActivityCreated, domain.JSON{
		"source": string(l.Source),
		"score":  l.Score,
	})
	if l.IsQualified {
		s.onQualified(ctx, l)
	}
	return l, nil
}

// UpdateInput holds the mutable fields for a lead update.
// Nil fields are not applied.
type UpdateInput struct {
	FirstName    *string                    `json:"first_name"`
	LastName     *string                    `json:"last_name"`
	Phone        *string                    `json:"phone"`
	Company      *string                    `json:"company"`
	JobTitle     *string                    `json:"job_title"`
	Status       *domain.LeadStatus         `json:"status"`
	Source       *domain.LeadSource         `json:"source"`
	LeadType     *string                    `json:"lead_type"`
	Location     *string                    `json:"location"`
	Budget       *float64                   `json:"budget"`
	Preferences  *domain.ContactPreferences `json:"preferences"`
	Requirements *domain.Requirements       `json:"requirements"`
	Tags         []string                   `json:"tags"`
	AssignedTo   *string                    `json:"assigned_to"`
}

// touchesScoring reports whether the update changes any scoring input.
func (u UpdateInput) touchesScoring() bool {
	return u.Budget != nil || u.Preferences != nil || u.Requirements != nil ||
		u.Source != nil || u.Company != nil || u.JobTitle != nil
}

// Update merges the given fields into the lead and rescores it when any
// scoring input changed. Closed leads keep their last score. The
// activity log and qualification follow-up fire only after the write
// commits, so a failed update leaves no stray task.
func (s *Service) Update(ctx context.Context, id string, u UpdateInput) (*domain.Lead, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prevStatus := l.Status
	prevScore := l.Score
	wasQualified := l.IsQualified
	applyUpdate(l, u)
	l.UpdatedAt = s.clock.Now().UTC()

	if u.touchesScoring() && !l.Status.IsClosed() {
		l.Score = Score(l)
		l.IsQualified = IsQualified(l.Score)
	}

	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	if l.Score != prevScore {
		s.logActivity(ctx, l.ID, domain.ActivityScored, domain.JSON{
			"from": prevScore,
			"to":   l.Score,
		})
	}
	if !wasQualified && l.IsQualified {
		s.onQualified(ctx, l)
	}
	if u.Status != nil && *u.Status != prevStatus {
		s.logActivity(ctx, l.ID, domain.ActivityStatusChanged, domain.JSON{
			"from": string(prevStatus),
			"to":   string(l.Status),
		})
	}
	return l, nil
}

// QualifyLead bypasses the scoring formula and sets the score directly.
// IsQualified is still recomputed from the common threshold.
func (s *Service) QualifyLead(ctx context.Context, id string, score int) (*domain.Lead, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("score must be in [0,100], got %d", score)
	}

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	wasQualified := l.IsQualified
	l.Score = score
	l.IsQualified = IsQualified(score)
	l.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	s.logActivity(ctx, l.ID, domain.ActivityScored, domain.JSON{
		"score":  score,
		"manual": true,
	})
	if !wasQualified && l.IsQualified {
		s.onQualified(ctx, l)
	}
	return l, nil
}

// Delete removes a lead and its activity log.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// RecordEngagement appends an engagement activity (email opened/clicked)
// to the lead's log. Called by the engagement tracker.
func (s *Service) RecordEngagement(ctx context.Context, leadID string, typ domain.ActivityType, campaignID string) {
	s.logActivity(ctx, leadID, typ, domain.JSON{"campaign_id": campaignID})
}

func applyUpdate(l *domain.Lead, u UpdateInput) {
	if u.FirstName != nil {
		l.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		l.LastName = *u.LastName
	}
	if u.Phone != nil {
		l.Phone = *u.Phone
	}
	if u.Company != nil {
		l.Company = *u.Company
	}
	if u.JobTitle != nil {
		l.JobTitle = *u.JobTitle
	}
	if u.Status != nil {
		l.Status = *u.Status
	}
	if u.Source != nil {
		l.Source = *u.Source
	}
	if u.LeadType != nil {
		l.LeadType = *u.LeadType
	}
	if u.Location != nil {
		l.Location = *u.Location
	}
	if u.Budget != nil {
		l.Budget = u.Budget
	}
	if u.Preferences != nil {
		l.Preferences = *u.Preferences
	}
	if u.Requirements != nil {
		l.Requirements = *u.Requirements
	}
	if u.Tags != nil {
		l.Tags = u.Tags
	}
	if u.AssignedTo != nil {
		l.AssignedTo = *u.AssignedTo
	}
}

// onQualified records the qualification and creates the high-priority
// follow-up task. Task creation failures are logged, not surfaced: the
// lead mutation has already committed.
func (s *Service) onQualified(ctx context.Context, l *domain.Lead) {
	s.logActivity(ctx, l.ID, domain.ActivityQualified, domain.JSON{"score": l.Score})

	if s.tasks == nil {
		return
	}
	task := &domain.FollowUpTask{
		LeadID:   l.ID,
		Title:    fmt.Sprintf("Follow up with qualified lead %s %s", l.FirstName, l.LastName),
		Priority: "high",
		DueAt:    s.clock.Now().UTC().Add(time.Duration(s.followUpAfter) * time.Hour),
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		logger.Error("follow-up task creation failed", "lead_id", l.ID, "error", err)
	}
}

func (s *Service) logActivity(ctx context.Context, leadID string, typ domain.ActivityType, details domain.JSON) {
	a := &domain.LeadActivity{
		ID:        uuid.New().String(),
		LeadID:    leadID,
		Type:      typ,
		Details:   details,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.AppendActivity(ctx, a); err != nil {
		logger.Warn("activity append failed", "lead_id", leadID, "type", string(typ), "error", err)
	}
}
