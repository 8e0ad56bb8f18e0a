package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/dispatch"
	"github.com/lettora/crm-engine/internal/service/engagement"
)

// EmailRepo implements dispatch.EmailRepository and engagement.Repository
// on the campaign_emails table. Every engagement mutation is a single
// UPDATE so concurrent tracking hits never lose an increment or downgrade
// a status.
type EmailRepo struct{ db *sql.DB }

// NewEmailRepo creates a Postgres-backed campaign email repository.
func NewEmailRepo(db *sql.DB) *EmailRepo { return &EmailRepo{db: db} }

// campaignCounters whitelists the counter columns on campaigns that may
// be bumped through IncrementCampaignCounter.
var campaignCounters = map[string]bool{
	"sent_count":         true,
	"delivered_count":    true,
	"opened_count":       true,
	"clicked_count":      true,
	"bounced_count":      true,
	"unsubscribed_count": true,
	"conversions_count":  true,
}

func (r *EmailRepo) CreatePending(ctx context.Context, e *domain.CampaignEmail) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_emails
			(id, campaign_id, recipient_id, recipient_email, variant, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
		ON CONFLICT (campaign_id, recipient_email) DO NOTHING
	`, e.ID, e.CampaignID, e.RecipientID, e.RecipientEmail, e.Variant, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create campaign email: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EmailRepo) ListPending(ctx context.Context, campaignID string, limit int) ([]dispatch.PendingEmail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ce.id, ce.campaign_id, COALESCE(ce.recipient_id, ''), ce.recipient_email,
		       COALESCE(ce.variant, ''), ce.status, ce.created_at,
		       COALESCE(l.first_name, ''), COALESCE(l.last_name, '')
		FROM campaign_emails ce
		LEFT JOIN leads l ON l.id::text = ce.recipient_id
		WHERE ce.campaign_id = $1 AND ce.status = 'pending'
		ORDER BY ce.created_at
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending emails: %w", err)
	}
	defer rows.Close()

	var out []dispatch.PendingEmail
	for rows.Next() {
		var p dispatch.PendingEmail
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.RecipientID, &p.RecipientEmail,
			&p.Variant, &p.Status, &p.CreatedAt, &p.FirstName, &p.LastName); err != nil {
			return nil, fmt.Errorf("scan pending email: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *EmailRepo) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_emails
		SET status = 'sent', message_id = $2, sent_at = $3, updated_at = $3
		WHERE id = $1
	`, id, messageID, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *EmailRepo) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_emails
		SET status = 'failed', failure_reason = $2, retry_count = retry_count + 1, updated_at = $3
		WHERE id = $1
	`, id, reason, at)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *EmailRepo) IncrementCampaignCounter(ctx context.Context, campaignID, counter string, delta int) error {
	if !campaignCounters[counter] {
		return fmt.Errorf("unknown campaign counter %q", counter)
	}
	q := fmt.Sprintf(`UPDATE campaigns SET %s = %s + $1, updated_at = NOW() WHERE id = $2`, counter, counter)
	_, err := r.db.ExecContext(ctx, q, delta, campaignID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	return nil
}

// RecordOpen bumps the raw open counter, stamps the timestamps and
// advances the status, all in one statement. The returned First flag
// compares first_opened_at against this hit's timestamp, so only the
// hit that set the stamp reports true.
func (r *EmailRepo) RecordOpen(ctx context.Context, emailID string, at time.Time) (*engagement.Event, error) {
	ev := &engagement.Event{EmailID: emailID}
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaign_emails
		SET open_count = open_count + 1,
		    opened_at = $2,
		    first_opened_at = COALESCE(first_opened_at, $2),
		    status = CASE WHEN status IN ('pending', 'sent', 'delivered') THEN 'opened' ELSE status END,
		    updated_at = $2
		WHERE id = $1
		RETURNING campaign_id, COALESCE(recipient_id, ''), (first_opened_at = $2)
	`, emailID, at).Scan(&ev.CampaignID, &ev.RecipientID, &ev.First)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record open: %w", err)
	}
	return ev, nil
}

// RecordClick appends the click to the JSONB log and applies the same
// counter/stamp/status rules as RecordOpen for the click axis.
func (r *EmailRepo) RecordClick(ctx context.Context, emailID string, click domain.ClickedLink) (*engagement.Event, error) {
	payload, err := json.Marshal(click)
	if err != nil {
		return nil, fmt.Errorf("marshal click: %w", err)
	}

	ev := &engagement.Event{EmailID: emailID}
	err = r.db.QueryRowContext(ctx, `
		UPDATE campaign_emails
		SET click_count = click_count + 1,
		    first_clicked_at = COALESCE(first_clicked_at, $2),
		    clicked_links = COALESCE(clicked_links, '[]'::jsonb) || $3::jsonb,
		    status = CASE WHEN status IN ('pending', 'sent', 'delivered', 'opened') THEN 'clicked' ELSE status END,
		    updated_at = $2
		WHERE id = $1
		RETURNING campaign_id, COALESCE(recipient_id, ''), (first_clicked_at = $2)
	`, emailID, click.ClickedAt, payload).Scan(&ev.CampaignID, &ev.RecipientID, &ev.First)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record click: %w", err)
	}
	return ev, nil
}

// UpdateDeliveryStatus applies a provider callback keyed by message id.
// The WHERE guard only matches rows the callback would actually change:
// terminal statuses stick and delivered never rewinds an engagement
// status, so repeated callbacks fall through to a nil event.
func (r *EmailRepo) UpdateDeliveryStatus(ctx context.Context, messageID string, status domain.EmailStatus, reason string, at time.Time) (*engagement.Event, error) {
	ev := &engagement.Event{First: true}
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaign_emails
		SET status = $2,
		    failure_reason = CASE WHEN $3 = '' THEN failure_reason ELSE $3 END,
		    updated_at = $4
		WHERE message_id = $1
		  AND status NOT IN ('bounced', 'complained', 'unsubscribed', 'failed')
		  AND ($2 <> 'delivered' OR status IN ('pending', 'sent'))
		RETURNING id, campaign_id, COALESCE(recipient_id, '')
	`, messageID, status, reason, at).Scan(&ev.EmailID, &ev.CampaignID, &ev.RecipientID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update delivery status: %w", err)
	}
	return ev, nil
}

func (r *EmailRepo) GetEmail(ctx context.Context, emailID string) (*domain.CampaignEmail, error) {
	e := &domain.CampaignEmail{}
	var variant, messageID, failureReason sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, COALESCE(recipient_id, ''), recipient_email,
		       variant, status, message_id, failure_reason, retry_count,
		       open_count, click_count, clicked_links,
		       sent_at, first_opened_at, first_clicked_at, opened_at,
		       created_at, updated_at
		FROM campaign_emails WHERE id = $1
	`, emailID).Scan(
		&e.ID, &e.CampaignID, &e.RecipientID, &e.RecipientEmail,
		&variant, &e.Status, &messageID, &failureReason, &e.RetryCount,
		&e.OpenCount, &e.ClickCount, &e.ClickedLinks,
		&e.SentAt, &e.FirstOpenedAt, &e.FirstClickedAt, &e.OpenedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, engagement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign email: %w", err)
	}
	e.Variant = variant.String
	e.MessageID = messageID.String
	e.FailureReason = failureReason.String
	return e, nil
}
