package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/campaign"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	metrics   map[string][]campaign.VariantMetrics // keyed by campaign id
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns: make(map[string]*domain.Campaign),
		metrics:   make(map[string][]campaign.VariantMetrics),
	}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		return "", fmt.Errorf("id required")
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.TemplateID != nil {
		c.TemplateID = u.TemplateID
	}
	if u.TargetAudience != nil {
		c.TargetAudience = *u.TargetAudience
	}
	if u.Content != nil {
		c.Content = *u.Content
	}
	if u.Schedule != nil {
		c.Schedule = *u.Schedule
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id string, allowed []domain.CampaignStatus, next domain.CampaignStatus, stamps campaign.Stamps) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	legal := false
	for _, a := range allowed {
		if c.Status == a {
			legal = true
		}
	}
	if !legal {
		return false, nil
	}
	c.Status = next
	if stamps.StartDate != nil {
		c.StartDate = stamps.StartDate
	}
	if stamps.EndDate != nil {
		c.EndDate = stamps.EndDate
	}
	c.UpdatedAt = stamps.UpdatedAt
	return true, nil
}

func (m *memRepo) SetABTest(_ context.Context, id string, settings *domain.ABTestSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.ABTest = settings
	return nil
}

func (m *memRepo) SetABWinner(_ context.Context, id string, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.ABTest != nil {
		c.ABTest.WinnerVariant = variant
	}
	return nil
}

func (m *memRepo) VariantMetrics(_ context.Context, campaignID string) ([]campaign.VariantMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[campaignID], nil
}

func (m *memRepo) ListDue(_ context.Context, now time.Time) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignScheduled && c.Schedule.SendAt != nil && !c.Schedule.SendAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

// stubResolver returns a fixed recipient list.
type stubResolver struct {
	recipients []domain.Recipient
	err        error
	calls      int
}

func (s *stubResolver) Resolve(_ context.Context, _ domain.TargetAudience) ([]domain.Recipient, error) {
	s.calls++
	return s.recipients, s.err
}

// stubDispatcher records dispatch invocations.
type stubDispatcher struct {
	dispatched [][]domain.Recipient
	pending    int
	err        error
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ *domain.Campaign, recipients []domain.Recipient) error {
	s.dispatched = append(s.dispatched, recipients)
	return s.err
}

func (s *stubDispatcher) ProcessPending(_ context.Context, _ *domain.Campaign) error {
	s.pending++
	return s.err
}

func newSvc() (*campaign.Service, *memRepo, *stubResolver, *stubDispatcher) {
	repo := newMemRepo()
	resolver := &stubResolver{recipients: []domain.Recipient{{ID: "r1", Email: "a@b.com"}}}
	dispatcher := &stubDispatcher{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := campaign.NewService(repo, resolver, dispatcher, nil, clock)
	return svc, repo, resolver, dispatcher
}

func launchable() campaign.CreateInput {
	return campaign.CreateInput{
		Name:       "Spring lettings",
		TemplateID: "tmpl-1",
		TargetAudience: domain.TargetAudience{
			LeadStatuses: []domain.LeadStatus{domain.LeadNew},
		},
		Content: domain.CampaignContent{Subject: "New flats in Camden"},
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, err := svc.Create(context.Background(), launchable())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.CampaignDraft {
		t.Errorf("status = %s, want draft", c.Status)
	}
	if !c.TrackOpens || !c.TrackClicks {
		t.Error("tracking should default to enabled")
	}
}

func TestLaunchSucceedsFromDraft(t *testing.T) {
	svc, _, resolver, dispatcher := newSvc()
	c, _ := svc.Create(context.Background(), launchable())

	got, err := svc.Launch(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if got.Status != domain.CampaignRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.StartDate == nil {
		t.Error("start date should be stamped")
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}
	if len(dispatcher.dispatched) != 1 {
		t.Errorf("dispatcher called %d times, want 1", len(dispatcher.dispatched))
	}

	// A second launch immediately after must fail: no longer draft/paused.
	if _, err := svc.Launch(context.Background(), c.ID); !campaign.IsTransition(err) {
		t.Errorf("second launch error = %v, want TransitionError", err)
	}
}

func TestLaunchWithoutTemplateFails(t *testing.T) {
	svc, repo, _, _ := newSvc()
	input := launchable()
	input.TemplateID = ""
	c, _ := svc.Create(context.Background(), input)

	_, err := svc.Launch(context.Background(), c.ID)
	if !campaign.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignDraft {
		t.Errorf("status changed to %s, should stay draft", got.Status)
	}
}

func TestLaunchWithInlineContentStillRequiresTemplate(t *testing.T) {
	svc, repo, _, _ := newSvc()
	input := launchable()
	input.TemplateID = ""
	input.Content = domain.CampaignContent{
		Subject:  "New flats in Camden",
		HTMLBody: "<html><body><p>Fresh to market</p></body></html>",
	}
	c, _ := svc.Create(context.Background(), input)

	_, err := svc.Launch(context.Background(), c.ID)
	var verr *campaign.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Field != "template_id" {
		t.Errorf("field = %q, want template_id", verr.Field)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignDraft {
		t.Errorf("status changed to %s, should stay draft", got.Status)
	}
}

func TestLaunchWithEmptyAudienceFails(t *testing.T) {
	svc, repo, _, _ := newSvc()
	input := launchable()
	input.TargetAudience = domain.TargetAudience{}
	c, _ := svc.Create(context.Background(), input)

	_, err := svc.Launch(context.Background(), c.ID)
	if !campaign.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignDraft {
		t.Errorf("status changed to %s, should stay draft", got.Status)
	}
}

func TestLaunchRollsBackWhenAudienceResolvesEmpty(t *testing.T) {
	svc, repo, resolver, _ := newSvc()
	resolver.recipients = nil
	c, _ := svc.Create(context.Background(), launchable())

	_, err := svc.Launch(context.Background(), c.ID)
	if !campaign.IsValidation(err) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignDraft {
		t.Errorf("status = %s, want rollback to draft", got.Status)
	}
}

func TestPauseOnlyFromRunning(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())

	if err := svc.Pause(context.Background(), c.ID); !campaign.IsTransition(err) {
		t.Errorf("pause from draft error = %v, want TransitionError", err)
	}

	svc.Launch(context.Background(), c.ID)
	if err := svc.Pause(context.Background(), c.ID); err != nil {
		t.Fatalf("pause from running: %v", err)
	}

	if err := svc.Pause(context.Background(), c.ID); !campaign.IsTransition(err) {
		t.Errorf("pause from paused error = %v, want TransitionError", err)
	}
}

func TestResumeProcessesPending(t *testing.T) {
	svc, _, _, dispatcher := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.Launch(context.Background(), c.ID)
	svc.Pause(context.Background(), c.ID)

	if err := svc.Resume(context.Background(), c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if dispatcher.pending != 1 {
		t.Errorf("ProcessPending called %d times, want 1", dispatcher.pending)
	}
}

func TestStopIsIdempotentFromCompleted(t *testing.T) {
	svc, repo, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())

	if err := svc.Stop(context.Background(), c.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != domain.CampaignCompleted || got.EndDate == nil {
		t.Errorf("status = %s endDate = %v", got.Status, got.EndDate)
	}

	if err := svc.Stop(context.Background(), c.ID); err != nil {
		t.Errorf("repeated stop should be a no-op, got %v", err)
	}
}

func TestStopRejectedFromCancelled(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	if err := svc.Cancel(context.Background(), c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.Stop(context.Background(), c.ID); !campaign.IsTransition(err) {
		t.Errorf("stop from cancelled error = %v, want TransitionError", err)
	}
}

func TestUpdateWhileRunning(t *testing.T) {
	svc, repo, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.Launch(context.Background(), c.ID)

	name := "renamed"
	if _, err := svc.Update(context.Background(), c.ID, campaign.UpdateFields{Name: &name}); !campaign.IsTransition(err) {
		t.Errorf("field update while running error = %v, want TransitionError", err)
	}

	paused := domain.CampaignPaused
	got, err := svc.Update(context.Background(), c.ID, campaign.UpdateFields{Status: &paused})
	if err != nil {
		t.Fatalf("pause via update: %v", err)
	}
	if got.Status != domain.CampaignPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}

	stored, _ := repo.Get(context.Background(), c.ID)
	if stored.Name != "Spring lettings" {
		t.Errorf("name mutated to %q during rejected update", stored.Name)
	}
}

func TestDeleteBlockedWhileRunning(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.Launch(context.Background(), c.ID)

	if err := svc.Delete(context.Background(), c.ID); !campaign.IsTransition(err) {
		t.Errorf("delete while running error = %v, want TransitionError", err)
	}

	svc.Stop(context.Background(), c.ID)
	if err := svc.Delete(context.Background(), c.ID); err != nil {
		t.Errorf("delete after stop: %v", err)
	}
}

func abSettings() domain.ABTestSettings {
	return domain.ABTestSettings{
		Enabled: true,
		Variants: []domain.ABVariant{
			{Name: "A", Subject: "Subject A", Percentage: 50},
			{Name: "B", Subject: "Subject B", Percentage: 50},
		},
		Criterion: domain.WinnerByOpenRate,
	}
}

func TestConfigureABTestOnlyInDraft(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.Launch(context.Background(), c.ID)

	if _, err := svc.ConfigureABTest(context.Background(), c.ID, abSettings()); !campaign.IsTransition(err) {
		t.Errorf("error = %v, want TransitionError", err)
	}
}

func TestConfigureABTestRejectsConversionRate(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())

	settings := abSettings()
	settings.Criterion = domain.WinnerByConversionRate
	if _, err := svc.ConfigureABTest(context.Background(), c.ID, settings); !campaign.IsValidation(err) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestConfigureABTestRejectsBadPercentages(t *testing.T) {
	svc, _, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())

	settings := abSettings()
	settings.Variants[1].Percentage = 40
	if _, err := svc.ConfigureABTest(context.Background(), c.ID, settings); !campaign.IsValidation(err) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

func TestEvaluateABTestSelectsWinner(t *testing.T) {
	svc, repo, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	if _, err := svc.ConfigureABTest(context.Background(), c.ID, abSettings()); err != nil {
		t.Fatalf("configure: %v", err)
	}

	repo.mu.Lock()
	repo.metrics[c.ID] = []campaign.VariantMetrics{
		{Variant: "A", Sent: 100, Opened: 40},
		{Variant: "B", Sent: 100, Opened: 55},
	}
	repo.mu.Unlock()

	result, err := svc.EvaluateABTest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Winner != "B" {
		t.Errorf("winner = %s, want B", result.Winner)
	}
	for _, m := range result.Variants {
		if m.Variant == "B" && m.OpenRate != 55 {
			t.Errorf("B open rate = %v, want 55", m.OpenRate)
		}
	}

	got, _ := repo.Get(context.Background(), c.ID)
	if got.ABTest.WinnerVariant != "B" {
		t.Errorf("persisted winner = %q, want B", got.ABTest.WinnerVariant)
	}
}

func TestEvaluateABTestTieBreaksToFirstDeclared(t *testing.T) {
	svc, repo, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.ConfigureABTest(context.Background(), c.ID, abSettings())

	repo.mu.Lock()
	repo.metrics[c.ID] = []campaign.VariantMetrics{
		{Variant: "B", Sent: 100, Opened: 50},
		{Variant: "A", Sent: 100, Opened: 50},
	}
	repo.mu.Unlock()

	result, err := svc.EvaluateABTest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Winner != "A" {
		t.Errorf("tied winner = %s, want first declared A", result.Winner)
	}
}

func TestEvaluateABTestZeroSent(t *testing.T) {
	svc, repo, _, _ := newSvc()
	c, _ := svc.Create(context.Background(), launchable())
	svc.ConfigureABTest(context.Background(), c.ID, abSettings())

	repo.mu.Lock()
	repo.metrics[c.ID] = []campaign.VariantMetrics{
		{Variant: "A", Sent: 0, Opened: 0},
		{Variant: "B", Sent: 10, Opened: 1},
	}
	repo.mu.Unlock()

	result, err := svc.EvaluateABTest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Winner != "B" {
		t.Errorf("winner = %s, want B", result.Winner)
	}
}
