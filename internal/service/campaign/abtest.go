package campaign

import (
	"context"
	"fmt"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// ConfigureABTest validates and stores split-test settings. Accepted only
// while the campaign is in draft. The conversion_rate criterion is
// rejected outright: no conversion metric is computed, and silently
// falling back to open rate would misreport the winner.
func (s *Service) ConfigureABTest(ctx context.Context, id string, settings domain.ABTestSettings) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, &TransitionError{
			Current: c.Status,
			Action:  "configure A/B test",
			Rule:    "A/B settings are accepted only while the campaign is in draft",
		}
	}

	if settings.Enabled {
		if err := validateABSettings(settings); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetABTest(ctx, id, &settings); err != nil {
		return nil, err
	}
	c.ABTest = &settings
	return c, nil
}

func validateABSettings(settings domain.ABTestSettings) error {
	if len(settings.Variants) < 2 {
		return &ValidationError{Field: "variants", Message: "at least two variants are required"}
	}

	seen := make(map[string]struct{}, len(settings.Variants))
	total := 0
	for i, v := range settings.Variants {
		if v.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("variants[%d].name", i), Message: "variant name is required"}
		}
		if _, dup := seen[v.Name]; dup {
			return &ValidationError{Field: fmt.Sprintf("variants[%d].name", i), Message: "variant names must be unique"}
		}
		seen[v.Name] = struct{}{}
		if v.Percentage <= 0 {
			return &ValidationError{Field: fmt.Sprintf("variants[%d].percentage", i), Message: "percentage must be positive"}
		}
		total += v.Percentage
	}
	if total != 100 {
		return &ValidationError{Field: "variants", Message: fmt.Sprintf("traffic percentages must sum to 100, got %d", total)}
	}

	switch settings.Criterion {
	case domain.WinnerByOpenRate, domain.WinnerByClickRate:
	case domain.WinnerByConversionRate:
		return &ValidationError{Field: "criterion", Message: "conversion_rate has no computed metric; use open_rate or click_rate"}
	case "":
		return &ValidationError{Field: "criterion", Message: "winner criterion is required"}
	default:
		return &ValidationError{Field: "criterion", Message: fmt.Sprintf("unknown criterion %q", settings.Criterion)}
	}
	return nil
}

// ABResult is the outcome of an A/B evaluation.
type ABResult struct {
	Winner    string                 `json:"winner"`
	Criterion domain.WinnerCriterion `json:"criterion"`
	Variants  []VariantMetrics       `json:"variants"`
}

// EvaluateABTest aggregates per-variant metrics and selects the winner by
// the configured criterion. Ties resolve to the first variant in
// declaration order. The winner is persisted on the campaign.
func (s *Service) EvaluateABTest(ctx context.Context, id string) (*ABResult, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ABTest == nil || !c.ABTest.Enabled {
		return nil, &ValidationError{Field: "ab_test", Message: "campaign has no enabled A/B test"}
	}

	metrics, err := s.repo.VariantMetrics(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("variant metrics: %w", err)
	}

	// Index aggregates by name, then walk variants in declaration order
	// so the tie-break is deterministic.
	byName := make(map[string]VariantMetrics, len(metrics))
	for _, m := range metrics {
		m.OpenRate = rate(m.Opened, m.Sent)
		m.ClickRate = rate(m.Clicked, m.Sent)
		byName[m.Variant] = m
	}

	result := &ABResult{Criterion: c.ABTest.Criterion}
	best := -1.0
	for _, v := range c.ABTest.Variants {
		m, ok := byName[v.Name]
		if !ok {
			m = VariantMetrics{Variant: v.Name}
		}
		result.Variants = append(result.Variants, m)

		score := m.OpenRate
		if c.ABTest.Criterion == domain.WinnerByClickRate {
			score = m.ClickRate
		}
		if score > best {
			best = score
			result.Winner = v.Name
		}
	}

	if result.Winner != "" {
		if err := s.repo.SetABWinner(ctx, id, result.Winner); err != nil {
			return nil, fmt.Errorf("persist winner: %w", err)
		}
		logger.Info("A/B winner selected", "campaign_id", id, "winner", result.Winner, "criterion", string(result.Criterion))
	}
	return result, nil
}

func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
