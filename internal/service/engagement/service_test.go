package engagement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/engagement"
)

// memRepo applies the engagement rules in memory, mirroring the
// single-statement guarantees of the SQL implementation.
type memRepo struct {
	mu       sync.Mutex
	records  map[string]*domain.CampaignEmail
	counters map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		records:  make(map[string]*domain.CampaignEmail),
		counters: make(map[string]int),
	}
}

func (m *memRepo) add(e domain.CampaignEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[e.ID] = &e
}

func (m *memRepo) RecordOpen(_ context.Context, emailID string, at time.Time) (*engagement.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[emailID]
	if !ok {
		return nil, nil
	}
	r.OpenCount++
	r.OpenedAt = &at
	first := r.FirstOpenedAt == nil
	if first {
		r.FirstOpenedAt = &at
	}
	if r.Status.Rank() < domain.EmailOpened.Rank() {
		r.Status = domain.EmailOpened
	}
	return &engagement.Event{EmailID: r.ID, CampaignID: r.CampaignID, RecipientID: r.RecipientID, First: first}, nil
}

func (m *memRepo) RecordClick(_ context.Context, emailID string, click domain.ClickedLink) (*engagement.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[emailID]
	if !ok {
		return nil, nil
	}
	r.ClickCount++
	r.ClickedLinks = append(r.ClickedLinks, click)
	first := r.FirstClickedAt == nil
	if first {
		r.FirstClickedAt = &click.ClickedAt
	}
	if r.Status.Rank() < domain.EmailClicked.Rank() {
		r.Status = domain.EmailClicked
	}
	return &engagement.Event{EmailID: r.ID, CampaignID: r.CampaignID, RecipientID: r.RecipientID, First: first}, nil
}

func (m *memRepo) UpdateDeliveryStatus(_ context.Context, messageID string, status domain.EmailStatus, reason string, _ time.Time) (*engagement.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.MessageID != messageID {
			continue
		}
		first := r.Status != status
		if status.IsTerminal() || r.Status.Rank() < status.Rank() {
			r.Status = status
			r.FailureReason = reason
		}
		return &engagement.Event{EmailID: r.ID, CampaignID: r.CampaignID, RecipientID: r.RecipientID, First: first}, nil
	}
	return nil, nil
}

func (m *memRepo) IncrementCampaignCounter(_ context.Context, campaignID, counter string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[campaignID+"."+counter] += delta
	return nil
}

func (m *memRepo) GetEmail(_ context.Context, emailID string) (*domain.CampaignEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[emailID]
	if !ok {
		return nil, engagement.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

type memActivities struct {
	mu     sync.Mutex
	events []domain.ActivityType
}

func (m *memActivities) RecordEngagement(_ context.Context, _ string, typ domain.ActivityType, _ string) {
	m.mu.Lock()
	m.events = append(m.events, typ)
	m.mu.Unlock()
}

func newSvc() (*engagement.Service, *memRepo, *memActivities) {
	repo := newMemRepo()
	acts := &memActivities{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return engagement.NewService(repo, acts, nil, clock), repo, acts
}

func sentRecord() domain.CampaignEmail {
	return domain.CampaignEmail{
		ID:             "em-1",
		CampaignID:     "camp-1",
		RecipientID:    "lead-1",
		RecipientEmail: "a@x.com",
		MessageID:      "msg-1",
		Status:         domain.EmailSent,
	}
}

func TestRecordOpenMonotonicCounters(t *testing.T) {
	svc, repo, _ := newSvc()
	repo.add(sentRecord())

	svc.RecordOpen(context.Background(), "em-1")
	r, _ := repo.GetEmail(context.Background(), "em-1")
	if r.OpenCount != 1 || r.FirstOpenedAt == nil {
		t.Fatalf("after first open: count=%d first=%v", r.OpenCount, r.FirstOpenedAt)
	}
	if r.Status != domain.EmailOpened {
		t.Errorf("status = %s, want opened", r.Status)
	}
	firstStamp := *r.FirstOpenedAt

	svc.RecordOpen(context.Background(), "em-1")
	svc.RecordOpen(context.Background(), "em-1")
	r, _ = repo.GetEmail(context.Background(), "em-1")
	if r.OpenCount != 3 {
		t.Errorf("open count = %d, want 3", r.OpenCount)
	}
	if !r.FirstOpenedAt.Equal(firstStamp) {
		t.Error("firstOpenedAt changed on a repeat open")
	}
	// Campaign-level opened counter moves once per record.
	if got := repo.counters["camp-1.opened_count"]; got != 1 {
		t.Errorf("opened_count = %d, want 1", got)
	}
}

func TestRecordOpenDoesNotDowngradeClicked(t *testing.T) {
	svc, repo, _ := newSvc()
	rec := sentRecord()
	rec.Status = domain.EmailClicked
	now := time.Now()
	rec.FirstClickedAt = &now
	repo.add(rec)

	svc.RecordOpen(context.Background(), "em-1")
	r, _ := repo.GetEmail(context.Background(), "em-1")
	if r.Status != domain.EmailClicked {
		t.Errorf("status downgraded to %s", r.Status)
	}
	if r.OpenCount != 1 {
		t.Errorf("open count = %d, want 1", r.OpenCount)
	}
}

func TestRecordOpenUnknownIDIsSilent(t *testing.T) {
	svc, repo, acts := newSvc()
	svc.RecordOpen(context.Background(), "nope")
	if len(repo.counters) != 0 {
		t.Error("counters moved for unknown record")
	}
	if len(acts.events) != 0 {
		t.Error("activity logged for unknown record")
	}
}

func TestRecordClickAppendsLog(t *testing.T) {
	svc, repo, acts := newSvc()
	repo.add(sentRecord())

	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	svc.RecordClick(context.Background(), "em-1", "https://lettora.co.uk/l/1", ua, "203.0.113.9")
	svc.RecordClick(context.Background(), "em-1", "https://lettora.co.uk/l/2", ua, "203.0.113.9")

	r, _ := repo.GetEmail(context.Background(), "em-1")
	if r.ClickCount != 2 || len(r.ClickedLinks) != 2 {
		t.Fatalf("clicks = %d log = %d, want 2/2", r.ClickCount, len(r.ClickedLinks))
	}
	if r.Status != domain.EmailClicked {
		t.Errorf("status = %s, want clicked", r.Status)
	}
	link := r.ClickedLinks[0]
	if link.URL != "https://lettora.co.uk/l/1" || link.Device != "mobile" || link.IPAddress != "203.0.113.9" {
		t.Errorf("click log entry = %+v", link)
	}
	if got := repo.counters["camp-1.clicked_count"]; got != 1 {
		t.Errorf("clicked_count = %d, want 1", got)
	}

	acts.mu.Lock()
	defer acts.mu.Unlock()
	if len(acts.events) != 1 || acts.events[0] != domain.ActivityEmailClicked {
		t.Errorf("activities = %v", acts.events)
	}
}

func TestRecordDeliveryResult(t *testing.T) {
	svc, repo, _ := newSvc()
	repo.add(sentRecord())

	if err := svc.RecordDeliveryResult(context.Background(), "msg-1", domain.EmailBounced, "550 no such user"); err != nil {
		t.Fatalf("record: %v", err)
	}
	r, _ := repo.GetEmail(context.Background(), "em-1")
	if r.Status != domain.EmailBounced {
		t.Errorf("status = %s, want bounced", r.Status)
	}
	if got := repo.counters["camp-1.bounced_count"]; got != 1 {
		t.Errorf("bounced_count = %d, want 1", got)
	}

	// A later open must not downgrade the terminal status.
	svc.RecordOpen(context.Background(), "em-1")
	r, _ = repo.GetEmail(context.Background(), "em-1")
	if r.Status != domain.EmailBounced {
		t.Errorf("terminal status downgraded to %s", r.Status)
	}
}

func TestRecordDeliveryResultRejectsBogusStatus(t *testing.T) {
	svc, _, _ := newSvc()
	if err := svc.RecordDeliveryResult(context.Background(), "msg-1", domain.EmailOpened, ""); err == nil {
		t.Error("expected error for non-delivery status")
	}
}
