package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/service/leads"
)

// LeadRepo implements leads.Repository. It also exposes FindRecipients so
// it can serve as the audience resolver's lead source.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead repository.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

const leadCols = `
	id, first_name, last_name, email, phone, company, job_title,
	status, source, lead_type, location, budget, preferences, requirements,
	tags, score, is_qualified, assigned_to, created_at, updated_at`

func scanLead(row interface{ Scan(...interface{}) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var phone, company, jobTitle, leadType, location, assignedTo sql.NullString
	var budget sql.NullFloat64
	err := row.Scan(
		&l.ID, &l.FirstName, &l.LastName, &l.Email, &phone, &company, &jobTitle,
		&l.Status, &l.Source, &leadType, &location, &budget, &l.Preferences, &l.Requirements,
		pq.Array(&l.Tags), &l.Score, &l.IsQualified, &assignedTo, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Phone = phone.String
	l.Company = company.String
	l.JobTitle = jobTitle.String
	l.LeadType = leadType.String
	l.Location = location.String
	l.AssignedTo = assignedTo.String
	if budget.Valid {
		l.Budget = &budget.Float64
	}
	return l, nil
}

func (r *LeadRepo) Get(ctx context.Context, id string) (*domain.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx,
		`SELECT `+leadCols+` FROM leads WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, leads.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *LeadRepo) List(ctx context.Context, f leads.ListFilter) ([]domain.Lead, int, error) {
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
	if f.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", idx)
		args = append(args, f.Source)
		idx++
	}
	if f.Qualified != nil {
		where += fmt.Sprintf(" AND is_qualified = $%d", idx)
		args = append(args, *f.Qualified)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d OR company ILIKE $%d)", idx, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}

	q := "SELECT " + leadCols + " FROM leads" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, total, rows.Err()
}

func (r *LeadRepo) Create(ctx context.Context, l *domain.Lead) (string, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads
			(id, first_name, last_name, email, phone, company, job_title,
			 status, source, lead_type, location, budget, preferences, requirements,
			 tags, score, is_qualified, assigned_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
	`, l.ID, l.FirstName, l.LastName, l.Email, l.Phone, l.Company, l.JobTitle,
		l.Status, l.Source, l.LeadType, l.Location, l.Budget, l.Preferences, l.Requirements,
		pq.Array(l.Tags), l.Score, l.IsQualified, l.AssignedTo, l.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("create lead: %w", err)
	}
	return l.ID, nil
}

func (r *LeadRepo) Update(ctx context.Context, l *domain.Lead) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads SET
			first_name = $2, last_name = $3, email = $4, phone = $5,
			company = $6, job_title = $7, status = $8, source = $9,
			lead_type = $10, location = $11, budget = $12,
			preferences = $13, requirements = $14, tags = $15,
			score = $16, is_qualified = $17, assigned_to = $18, updated_at = $19
		WHERE id = $1
	`, l.ID, l.FirstName, l.LastName, l.Email, l.Phone,
		l.Company, l.JobTitle, l.Status, l.Source,
		l.LeadType, l.Location, l.Budget,
		l.Preferences, l.Requirements, pq.Array(l.Tags),
		l.Score, l.IsQualified, l.AssignedTo, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepo) AppendActivity(ctx context.Context, a *domain.LeadActivity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_activities (id, lead_id, activity_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.LeadID, a.Type, a.Details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("append lead activity: %w", err)
	}
	return nil
}

func (r *LeadRepo) ListActivities(ctx context.Context, leadID string, limit int) ([]domain.LeadActivity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lead_id, activity_type, details, created_at
		FROM lead_activities
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list lead activities: %w", err)
	}
	defer rows.Close()

	var out []domain.LeadActivity
	for rows.Next() {
		var a domain.LeadActivity
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindRecipients translates an audience filter into a lead query. It is
// the lead-side audience.Source implementation.
func (r *LeadRepo) FindRecipients(ctx context.Context, filter domain.TargetAudience) ([]domain.Recipient, error) {
	where := " WHERE email <> ''"
	args := []interface{}{}
	idx := 1

	if len(filter.LeadStatuses) > 0 {
		statuses := make([]string, len(filter.LeadStatuses))
		for i, s := range filter.LeadStatuses {
			statuses[i] = string(s)
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, pq.Array(statuses))
		idx++
	}
	if len(filter.LeadTypes) > 0 {
		where += fmt.Sprintf(" AND lead_type = ANY($%d)", idx)
		args = append(args, pq.Array(filter.LeadTypes))
		idx++
	}
	if filter.Location != "" {
		where += fmt.Sprintf(" AND location ILIKE $%d", idx)
		args = append(args, "%"+filter.Location+"%")
		idx++
	}
	if filter.MinBudget != nil {
		where += fmt.Sprintf(" AND budget >= $%d", idx)
		args = append(args, *filter.MinBudget)
		idx++
	}
	if filter.MaxBudget != nil {
		where += fmt.Sprintf(" AND budget <= $%d", idx)
		args = append(args, *filter.MaxBudget)
		idx++
	}
	if len(filter.Tags) > 0 {
		where += fmt.Sprintf(" AND tags && $%d", idx)
		args = append(args, pq.Array(filter.Tags))
		idx++
	}
	if filter.Predicate != "" {
		frag, pArgs, next, err := compilePredicate(filter.Predicate, leadPredicateColumns, idx)
		if err != nil {
			return nil, fmt.Errorf("compile audience predicate: %w", err)
		}
		where += " AND (" + frag + ")"
		args = append(args, pArgs...)
		idx = next
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, email, first_name, last_name FROM leads"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("find lead recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec := domain.Recipient{OriginType: "lead"}
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.FirstName, &rec.LastName); err != nil {
			return nil, fmt.Errorf("scan lead recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
