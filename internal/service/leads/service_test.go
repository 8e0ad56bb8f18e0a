package leads_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/leads"
)

// memRepo is an in-memory lead repository for unit testing.
type memRepo struct {
	mu         sync.Mutex
	leads      map[string]*domain.Lead
	activities []domain.LeadActivity
	updateErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{leads: make(map[string]*domain.Lead)}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, leads.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f leads.ListFilter) ([]domain.Lead, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Lead
	for _, l := range m.leads {
		if f.Status != "" && string(l.Status) != f.Status {
			continue
		}
		if f.Qualified != nil && l.IsQualified != *f.Qualified {
			continue
		}
		out = append(out, *l)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, l *domain.Lead) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		return "", fmt.Errorf("id required")
	}
	cp := *l
	m.leads[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) Update(_ context.Context, l *domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.leads[l.ID]; !ok {
		return leads.ErrNotFound
	}
	cp := *l
	m.leads[cp.ID] = &cp
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[id]; !ok {
		return leads.ErrNotFound
	}
	delete(m.leads, id)
	return nil
}

func (m *memRepo) AppendActivity(_ context.Context, a *domain.LeadActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, *a)
	return nil
}

func (m *memRepo) ListActivities(_ context.Context, leadID string, limit int) ([]domain.LeadActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LeadActivity
	for i := len(m.activities) - 1; i >= 0 && len(out) < limit; i-- {
		if m.activities[i].LeadID == leadID {
			out = append(out, m.activities[i])
		}
	}
	return out, nil
}

func (m *memRepo) activityTypes(leadID string) []domain.ActivityType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ActivityType
	for _, a := range m.activities {
		if a.LeadID == leadID {
			out = append(out, a.Type)
		}
	}
	return out
}

// memTasks records created follow-up tasks.
type memTasks struct {
	mu    sync.Mutex
	tasks []domain.FollowUpTask
}

func (m *memTasks) CreateTask(_ context.Context, t *domain.FollowUpTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, *t)
	return nil
}

func f64(v float64) *float64 { return &v }

func newSvc() (*leads.Service, *memRepo, *memTasks, clockwork.FakeClock) {
	repo := newMemRepo()
	tasks := &memTasks{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return leads.NewService(repo, tasks, clock, 72), repo, tasks, clock
}

func TestCreateScoresLead(t *testing.T) {
	svc, _, _, _ := newSvc()

	l, err := svc.Create(context.Background(), leads.CreateInput{
		Email:    "buyer@example.com",
		Budget:   f64(750_000),
		Source:   domain.SourceReferral,
		Company:  "Acme",
		JobTitle: "CTO",
		Requirements: domain.Requirements{
			PropertyType: "flat",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Score != 58 {
		t.Errorf("score = %d, want 58", l.Score)
	}
	if l.IsQualified {
		t.Error("score 58 should not qualify")
	}
	if l.Status != domain.LeadNew {
		t.Errorf("status = %s, want new", l.Status)
	}
}

func TestCreateRequiresEmail(t *testing.T) {
	svc, _, _, _ := newSvc()
	if _, err := svc.Create(context.Background(), leads.CreateInput{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestUpdateRescoresOnBudgetChange(t *testing.T) {
	svc, _, _, _ := newSvc()

	l, _ := svc.Create(context.Background(), leads.CreateInput{
		Email:  "buyer@example.com",
		Budget: f64(50_000),
	})
	if l.Score != 15 {
		t.Fatalf("initial score = %d, want 15", l.Score)
	}

	got, err := svc.Update(context.Background(), l.ID, leads.UpdateInput{
		Budget: f64(1_500_000),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Score != 35 {
		t.Errorf("score after budget change = %d, want 35", got.Score)
	}
	if got.IsQualified != (got.Score >= 70) {
		t.Error("IsQualified out of sync with score")
	}
}

func TestQualificationCreatesFollowUpTask(t *testing.T) {
	svc, _, tasks, clock := newSvc()

	l, _ := svc.Create(context.Background(), leads.CreateInput{
		Email:  "hot@example.com",
		Budget: f64(100_000),
		Source: domain.SourceWebsite,
	})
	if l.IsQualified {
		t.Fatal("lead should start unqualified")
	}

	got, err := svc.Update(context.Background(), l.ID, leads.UpdateInput{
		Budget: f64(2_000_000),
		Preferences: &domain.ContactPreferences{
			BestTimeToCall:  "morning",
			PreferredMethod: "phone",
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// 30 budget + 20 prefs + 12 website = 62... still short; add firmographics
	if got.IsQualified {
		t.Fatalf("score %d should not yet qualify", got.Score)
	}

	got, err = svc.Update(context.Background(), l.ID, leads.UpdateInput{
		Company:  strp("Acme"),
		JobTitle: strp("Director"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.IsQualified {
		t.Fatalf("score %d should qualify", got.Score)
	}

	tasks.mu.Lock()
	defer tasks.mu.Unlock()
	if len(tasks.tasks) != 1 {
		t.Fatalf("expected 1 follow-up task, got %d", len(tasks.tasks))
	}
	task := tasks.tasks[0]
	if task.Priority != "high" {
		t.Errorf("task priority = %q, want high", task.Priority)
	}
	wantDue := clock.Now().UTC().Add(72 * time.Hour)
	if !task.DueAt.Equal(wantDue) {
		t.Errorf("task due = %v, want %v", task.DueAt, wantDue)
	}
}

func TestFailedUpdateCreatesNoFollowUpTask(t *testing.T) {
	svc, repo, tasks, _ := newSvc()

	l, _ := svc.Create(context.Background(), leads.CreateInput{
		Email:  "hot@example.com",
		Budget: f64(100_000),
	})

	repo.updateErr = fmt.Errorf("connection reset")
	_, err := svc.Update(context.Background(), l.ID, leads.UpdateInput{
		Budget: f64(2_000_000),
		Preferences: &domain.ContactPreferences{
			BestTimeToCall:  "morning",
			PreferredMethod: "phone",
		},
		Company:  strp("Acme"),
		JobTitle: strp("Director"),
	})
	if err == nil {
		t.Fatal("expected update to fail")
	}

	tasks.mu.Lock()
	defer tasks.mu.Unlock()
	if len(tasks.tasks) != 0 {
		t.Errorf("follow-up task created for an unpersisted qualification: %+v", tasks.tasks)
	}
}

func TestQualifyLeadOverride(t *testing.T) {
	svc, repo, tasks, _ := newSvc()

	l, _ := svc.Create(context.Background(), leads.CreateInput{Email: "x@example.com"})

	got, err := svc.QualifyLead(context.Background(), l.ID, 85)
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if got.Score != 85 || !got.IsQualified {
		t.Errorf("override score = %d qualified = %v", got.Score, got.IsQualified)
	}

	tasks.mu.Lock()
	n := len(tasks.tasks)
	tasks.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 follow-up task after manual qualification, got %d", n)
	}

	types := repo.activityTypes(l.ID)
	var sawQualified bool
	for _, typ := range types {
		if typ == domain.ActivityQualified {
			sawQualified = true
		}
	}
	if !sawQualified {
		t.Error("expected a qualified activity record")
	}
}

func TestQualifyLeadRejectsOutOfRange(t *testing.T) {
	svc, _, _, _ := newSvc()
	l, _ := svc.Create(context.Background(), leads.CreateInput{Email: "x@example.com"})

	if _, err := svc.QualifyLead(context.Background(), l.ID, 101); err == nil {
		t.Error("expected error for score 101")
	}
	if _, err := svc.QualifyLead(context.Background(), l.ID, -1); err == nil {
		t.Error("expected error for score -1")
	}
}

func TestClosedLeadIsNotRescored(t *testing.T) {
	svc, _, _, _ := newSvc()

	l, _ := svc.Create(context.Background(), leads.CreateInput{
		Email:  "done@example.com",
		Budget: f64(500_000),
	})
	closed := domain.LeadClosedWon
	got, _ := svc.Update(context.Background(), l.ID, leads.UpdateInput{Status: &closed})

	prev := got.Score
	got, err := svc.Update(context.Background(), l.ID, leads.UpdateInput{Budget: f64(10)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Score != prev {
		t.Errorf("closed lead score changed %d -> %d", prev, got.Score)
	}
}

func strp(s string) *string { return &s }
