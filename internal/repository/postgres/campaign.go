package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL. It also
// exposes GetStatus for the dispatch pipeline's cooperative pause check.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignCols = `
	id, created_by, name, campaign_type, status, template_id,
	target_audience, content, schedule, track_opens, track_clicks, ab_test,
	sent_count, delivered_count, opened_count, clicked_count,
	bounced_count, unsubscribed_count, conversions_count,
	start_date, end_date, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var ab domain.ABTestSettings
	err := row.Scan(
		&c.ID, &c.CreatedBy, &c.Name, &c.Type, &c.Status, &c.TemplateID,
		&c.TargetAudience, &c.Content, &c.Schedule, &c.TrackOpens, &c.TrackClicks, &ab,
		&c.SentCount, &c.DeliveredCount, &c.OpenedCount, &c.ClickedCount,
		&c.BouncedCount, &c.UnsubscribedCount, &c.ConversionsCount,
		&c.StartDate, &c.EndDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ab.Enabled || len(ab.Variants) > 0 {
		c.ABTest = &ab
	}
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// GetStatus returns only the current status; the dispatch loop calls it
// between recipients so it must stay a single cheap read.
func (r *CampaignRepo) GetStatus(ctx context.Context, campaignID string) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, campaignID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get campaign status: %w", err)
	}
	return status, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND campaign_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := "SELECT " + campaignCols + " FROM campaigns" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	var ab interface{}
	if c.ABTest != nil {
		ab = *c.ABTest
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, created_by, name, campaign_type, status, template_id,
			 target_audience, content, schedule, track_opens, track_clicks, ab_test,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, c.ID, c.CreatedBy, c.Name, c.Type, c.Status, c.TemplateID,
		c.TargetAudience, c.Content, c.Schedule, c.TrackOpens, c.TrackClicks, ab,
		c.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Type != nil {
		add("campaign_type", *u.Type)
	}
	if u.TemplateID != nil {
		add("template_id", *u.TemplateID)
	}
	if u.TargetAudience != nil {
		add("target_audience", *u.TargetAudience)
	}
	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.Schedule != nil {
		add("schedule", *u.Schedule)
	}
	if u.TrackOpens != nil {
		add("track_opens", *u.TrackOpens)
	}
	if u.TrackClicks != nil {
		add("track_clicks", *u.TrackClicks)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d", joinComma(sets), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns WHERE id = $1 AND status <> 'running'
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// TransitionStatus is a single guarded UPDATE so concurrent transition
// attempts cannot both win.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, allowed []domain.CampaignStatus, next domain.CampaignStatus, stamps campaign.Stamps) (bool, error) {
	allowedStrs := make([]string, len(allowed))
	for i, a := range allowed {
		allowedStrs[i] = string(a)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1,
		    start_date = COALESCE($2, start_date),
		    end_date = COALESCE($3, end_date),
		    updated_at = $4
		WHERE id = $5 AND status = ANY($6)
	`, next, stamps.StartDate, stamps.EndDate, stamps.UpdatedAt, id, pq.Array(allowedStrs))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) SetABTest(ctx context.Context, id string, settings *domain.ABTestSettings) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET ab_test = $1, updated_at = NOW() WHERE id = $2
	`, settings, id)
	if err != nil {
		return fmt.Errorf("set ab test: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) SetABWinner(ctx context.Context, id string, variant string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET ab_test = jsonb_set(ab_test, '{winner_variant}', to_jsonb($1::text)),
		    updated_at = NOW()
		WHERE id = $2 AND ab_test IS NOT NULL
	`, variant, id)
	if err != nil {
		return fmt.Errorf("set ab winner: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) VariantMetrics(ctx context.Context, campaignID string) ([]campaign.VariantMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(variant, ''),
		       COUNT(*) FILTER (WHERE sent_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE first_opened_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE first_clicked_at IS NOT NULL)
		FROM campaign_emails
		WHERE campaign_id = $1
		GROUP BY 1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("variant metrics: %w", err)
	}
	defer rows.Close()

	var out []campaign.VariantMetrics
	for rows.Next() {
		var m campaign.VariantMetrics
		if err := rows.Scan(&m.Variant, &m.Sent, &m.Opened, &m.Clicked); err != nil {
			return nil, fmt.Errorf("scan variant metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignCols+`
		FROM campaigns
		WHERE status = 'scheduled'
		  AND (schedule->>'send_at')::timestamptz <= $1
		ORDER BY (schedule->>'send_at')::timestamptz
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
