// Package audience resolves a campaign's targeting filter into a
// deduplicated recipient list. Resolution is read-only and safely
// re-runnable; dedup key is the recipient's email, case-insensitive.
package audience

import (
	"context"
	"fmt"
	"strings"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// Source is a read-only query surface over one recipient store
// (leads or contacts).
type Source interface {
	// FindRecipients returns recipients matching the filter. The origin
	// type on each returned recipient identifies the store.
	FindRecipients(ctx context.Context, filter domain.TargetAudience) ([]domain.Recipient, error)
}

// Resolver evaluates targeting criteria against the configured sources.
type Resolver struct {
	leads    Source
	contacts Source
}

// NewResolver creates a resolver. contacts may be nil when no contact
// store is configured.
func NewResolver(leads, contacts Source) *Resolver {
	return &Resolver{leads: leads, contacts: contacts}
}

// Resolve returns the deduplicated recipient list for the filter.
// When the filter scopes neither store explicitly, leads are queried.
// First occurrence wins on duplicate emails, so lead records take
// precedence over contact records for the same address.
func (r *Resolver) Resolve(ctx context.Context, filter domain.TargetAudience) ([]domain.Recipient, error) {
	includeLeads := filter.IncludeLeads
	includeContacts := filter.IncludeContacts
	if !includeLeads && !includeContacts {
		includeLeads = true
	}

	var all []domain.Recipient
	if includeLeads && r.leads != nil {
		recs, err := r.leads.FindRecipients(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("resolve leads: %w", err)
		}
		all = append(all, recs...)
	}
	if includeContacts && r.contacts != nil {
		recs, err := r.contacts.FindRecipients(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("resolve contacts: %w", err)
		}
		all = append(all, recs...)
	}

	out := dedupe(all)
	logger.Debug("audience resolved", "matched", len(all), "after_dedup", len(out))
	return out, nil
}

// dedupe keeps the first occurrence of each email, case-insensitively.
// Recipients without an email address are dropped.
func dedupe(recipients []domain.Recipient) []domain.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]domain.Recipient, 0, len(recipients))
	for _, r := range recipients {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
