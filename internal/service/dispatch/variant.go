package dispatch

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/lettora/crm-engine/internal/domain"
)

// SelectVariant deterministically assigns a recipient to one of the
// campaign's A/B variants, weighted by traffic percentage. The same
// (email, campaign) pair always maps to the same variant, so retried or
// resumed dispatches never flip a recipient between variants.
func SelectVariant(email, campaignID string, variants []domain.ABVariant) string {
	if len(variants) == 0 {
		return ""
	}

	h := sha256.Sum256([]byte(strings.ToLower(email) + ":" + campaignID))
	bucket := binary.BigEndian.Uint64(h[:8]) % 100

	cumulative := uint64(0)
	for _, v := range variants {
		cumulative += uint64(v.Percentage)
		if bucket < cumulative {
			return v.Name
		}
	}
	// Percentages summing under 100 fall through to the last variant.
	return variants[len(variants)-1].Name
}
