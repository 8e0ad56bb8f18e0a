package leads

import "github.com/lettora/crm-engine/internal/domain"

// sourceScores maps lead source to its quality contribution.
var sourceScores = map[domain.LeadSource]int{
	domain.SourceReferral:      15,
	domain.SourceWebsite:       12,
	domain.SourceSocialMedia:   10,
	domain.SourceEmailCampaign: 8,
	domain.SourceAdvertisement: 6,
	domain.SourcePhoneCall:     3,
}

// defaultSourceScore applies to unlisted or empty sources.
const defaultSourceScore = 5

// Score computes a lead's 0-100 fitness score. The function is pure and
// deterministic: the same lead always produces the same score. Components
// are additive and the total is capped at 100.
func Score(lead *domain.Lead) int {
	score := budgetScore(lead.Budget)

	// Contact-preference completeness, up to 20.
	if lead.Preferences.BestTimeToCall != "" {
		score += 10
	}
	if lead.Preferences.PreferredMethod != "" {
		score += 10
	}

	// Requirements specificity, 3 per populated field capped at 20.
	req := lead.Requirements.PopulatedFields() * 3
	if req > 20 {
		req = 20
	}
	score += req

	if s, ok := sourceScores[lead.Source]; ok {
		score += s
	} else {
		score += defaultSourceScore
	}

	// Firmographics, up to 15.
	if lead.Company != "" {
		score += 8
	}
	if lead.JobTitle != "" {
		score += 7
	}

	if score > 100 {
		score = 100
	}
	return score
}

func budgetScore(budget *float64) int {
	if budget == nil || *budget <= 0 {
		return 0
	}
	switch b := *budget; {
	case b >= 1_000_000:
		return 30
	case b >= 500_000:
		return 25
	case b >= 250_000:
		return 20
	case b >= 100_000:
		return 15
	default:
		return 10
	}
}

// IsQualified reports whether a score meets the qualification threshold.
func IsQualified(score int) bool {
	return score >= domain.QualificationThreshold
}
