package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/lettora/crm-engine/internal/domain"
)

// ContactRepo is the contact-side audience.Source. Contacts are existing
// customers rather than prospects, so lead-only criteria (statuses,
// types, budget) do not apply; filters that cannot match contacts return
// an empty set from the query itself.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact source.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) FindRecipients(ctx context.Context, filter domain.TargetAudience) ([]domain.Recipient, error) {
	// Lead-specific criteria never match a contact row.
	if len(filter.LeadStatuses) > 0 || len(filter.LeadTypes) > 0 ||
		filter.MinBudget != nil || filter.MaxBudget != nil {
		return nil, nil
	}

	where := " WHERE email <> '' AND subscribed"
	args := []interface{}{}
	idx := 1
	if filter.Location != "" {
		where += fmt.Sprintf(" AND location ILIKE $%d", idx)
		args = append(args, "%"+filter.Location+"%")
		idx++
	}
	if len(filter.Tags) > 0 {
		where += fmt.Sprintf(" AND tags && $%d", idx)
		args = append(args, pq.Array(filter.Tags))
		idx++
	}
	if filter.Predicate != "" {
		frag, pArgs, next, err := compilePredicate(filter.Predicate, contactPredicateColumns, idx)
		if errors.Is(err, errPredicateColumn) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("compile audience predicate: %w", err)
		}
		where += " AND (" + frag + ")"
		args = append(args, pArgs...)
		idx = next
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, email, first_name, last_name FROM contacts"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("find contact recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec := domain.Recipient{OriginType: "contact"}
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.FirstName, &rec.LastName); err != nil {
			return nil, fmt.Errorf("scan contact recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
