package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lettora/crm-engine/internal/domain"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestEmailRepo_CreatePending_Idempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	e := &domain.CampaignEmail{
		CampaignID:     "c1",
		RecipientID:    "l1",
		RecipientEmail: "lead@example.com",
		CreatedAt:      time.Now(),
	}

	mock.ExpectExec("INSERT INTO campaign_emails").
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.CreatePending(context.Background(), e)
	if err != nil {
		t.Fatalf("CreatePending() error: %v", err)
	}
	if !created {
		t.Error("CreatePending() = false on fresh insert, want true")
	}
	if e.ID == "" {
		t.Error("CreatePending() did not assign an id")
	}

	// Conflict path: ON CONFLICT DO NOTHING affects zero rows.
	mock.ExpectExec("INSERT INTO campaign_emails").
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.CreatePending(context.Background(), e)
	if err != nil {
		t.Fatalf("CreatePending() error on conflict: %v", err)
	}
	if created {
		t.Error("CreatePending() = true on conflict, want false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmailRepo_RecordOpen(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE campaign_emails").
		WithArgs("e1", at).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "recipient_id", "first"}).
			AddRow("c1", "l1", true))

	ev, err := repo.RecordOpen(context.Background(), "e1", at)
	if err != nil {
		t.Fatalf("RecordOpen() error: %v", err)
	}
	if ev == nil {
		t.Fatal("RecordOpen() returned nil event for matched row")
	}
	if ev.CampaignID != "c1" || ev.RecipientID != "l1" || !ev.First {
		t.Errorf("RecordOpen() event = %+v", ev)
	}

	// Unknown id: no row updated, absorbed as a nil event.
	mock.ExpectQuery("UPDATE campaign_emails").
		WithArgs("nope", at).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "recipient_id", "first"}))

	ev, err = repo.RecordOpen(context.Background(), "nope", at)
	if err != nil {
		t.Fatalf("RecordOpen() error for unknown id: %v", err)
	}
	if ev != nil {
		t.Errorf("RecordOpen() event = %+v for unknown id, want nil", ev)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmailRepo_RecordClick(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	click := domain.ClickedLink{URL: "https://example.com/listing/42", ClickedAt: at, Device: "mobile"}

	mock.ExpectQuery("UPDATE campaign_emails").
		WithArgs("e1", at, []byte(`{"url":"https://example.com/listing/42","clicked_at":"2026-03-01T12:00:00Z","device":"mobile"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "recipient_id", "first"}).
			AddRow("c1", "l1", false))

	ev, err := repo.RecordClick(context.Background(), "e1", click)
	if err != nil {
		t.Fatalf("RecordClick() error: %v", err)
	}
	if ev == nil || ev.First {
		t.Errorf("RecordClick() event = %+v, want repeat click with First=false", ev)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmailRepo_UpdateDeliveryStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)
	at := time.Now().UTC()

	mock.ExpectQuery("UPDATE campaign_emails").
		WithArgs("msg-1", domain.EmailBounced, "mailbox full", at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "recipient_id"}).
			AddRow("e1", "c1", "l1"))

	ev, err := repo.UpdateDeliveryStatus(context.Background(), "msg-1", domain.EmailBounced, "mailbox full", at)
	if err != nil {
		t.Fatalf("UpdateDeliveryStatus() error: %v", err)
	}
	if ev == nil || !ev.First {
		t.Errorf("UpdateDeliveryStatus() event = %+v, want applied event", ev)
	}

	// Repeated callback: the guard matches no row.
	mock.ExpectQuery("UPDATE campaign_emails").
		WithArgs("msg-1", domain.EmailBounced, "mailbox full", at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "recipient_id"}))

	ev, err = repo.UpdateDeliveryStatus(context.Background(), "msg-1", domain.EmailBounced, "mailbox full", at)
	if err != nil {
		t.Fatalf("UpdateDeliveryStatus() error on repeat: %v", err)
	}
	if ev != nil {
		t.Errorf("UpdateDeliveryStatus() event = %+v on repeat, want nil", ev)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmailRepo_IncrementCampaignCounter_Whitelist(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectExec("UPDATE campaigns SET opened_count = opened_count").
		WithArgs(1, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.IncrementCampaignCounter(context.Background(), "c1", "opened_count", 1); err != nil {
		t.Fatalf("IncrementCampaignCounter() error: %v", err)
	}

	if err := repo.IncrementCampaignCounter(context.Background(), "c1", "status; DROP TABLE campaigns", 1); err == nil {
		t.Error("IncrementCampaignCounter() accepted a non-counter column")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmailRepo_MarkFailed(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE campaign_emails").
		WithArgs("e1", "smtp 550", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "e1", "smtp 550", at); err != nil {
		t.Fatalf("MarkFailed() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
