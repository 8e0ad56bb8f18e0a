package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignType classifies what a campaign is for.
type CampaignType string

const (
	CampaignTypeNewsletter   CampaignType = "newsletter"
	CampaignTypePromotion    CampaignType = "promotion"
	CampaignTypeNewListing   CampaignType = "new_listing"
	CampaignTypePriceChange  CampaignType = "price_change"
	CampaignTypeViewingInvite CampaignType = "viewing_invite"
	CampaignTypeNurture      CampaignType = "nurture"
)

// WinnerCriterion selects the metric an A/B test is judged on.
type WinnerCriterion string

const (
	WinnerByOpenRate  WinnerCriterion = "open_rate"
	WinnerByClickRate WinnerCriterion = "click_rate"
	// WinnerByConversionRate is recognised in configuration payloads but
	// rejected at validation time: no conversion metric is computed.
	WinnerByConversionRate WinnerCriterion = "conversion_rate"
)

// JSON is a helper type for JSONB columns.
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// TargetAudience is the structured targeting filter evaluated by the
// audience resolver at launch. An audience is empty when no criterion
// is set, which makes the campaign unlaunchable.
type TargetAudience struct {
	LeadStatuses []LeadStatus `json:"lead_statuses,omitempty"`
	LeadTypes    []string     `json:"lead_types,omitempty"`
	Location     string       `json:"location,omitempty"`
	MinBudget    *float64     `json:"min_budget,omitempty"`
	MaxBudget    *float64     `json:"max_budget,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	// Predicate is a restricted filter expression, AND-joined comparisons
	// over whitelisted columns, compiled by the audience sources. A
	// predicate that does not compile fails resolution rather than
	// widening the audience. Optional.
	Predicate string `json:"predicate,omitempty"`
	// IncludeContacts/IncludeLeads scope which stores are queried.
	// When both are false the resolver defaults to leads only.
	IncludeContacts bool `json:"include_contacts"`
	IncludeLeads    bool `json:"include_leads"`
}

// IsEmpty reports whether no targeting criterion is set.
func (t TargetAudience) IsEmpty() bool {
	return len(t.LeadStatuses) == 0 && len(t.LeadTypes) == 0 &&
		t.Location == "" && t.MinBudget == nil && t.MaxBudget == nil &&
		len(t.Tags) == 0 && t.Predicate == ""
}

func (t TargetAudience) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *TargetAudience) Scan(value interface{}) error {
	if value == nil {
		*t = TargetAudience{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, t)
}

// CampaignContent holds the message payload for a campaign.
type CampaignContent struct {
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body"`
	TextBody    string `json:"text_body,omitempty"`
	CTALabel    string `json:"cta_label,omitempty"`
	CTAURL      string `json:"cta_url,omitempty"`
}

func (c CampaignContent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *CampaignContent) Scan(value interface{}) error {
	if value == nil {
		*c = CampaignContent{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, c)
}

// CampaignSchedule controls when a campaign goes out. Immediate campaigns
// have a nil SendAt. Recurring campaigns re-arm after each run.
type CampaignSchedule struct {
	SendAt    *time.Time `json:"send_at,omitempty"`
	Recurring bool       `json:"recurring"`
	// CronExpr is a standard 5-field cron expression, only meaningful
	// when Recurring is true.
	CronExpr string `json:"cron_expr,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

func (s CampaignSchedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *CampaignSchedule) Scan(value interface{}) error {
	if value == nil {
		*s = CampaignSchedule{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, s)
}

// ABVariant is one alternative subject/content configuration under A/B
// testing, with an assigned traffic percentage.
type ABVariant struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	HTMLBody   string `json:"html_body,omitempty"`
	Percentage int    `json:"percentage"`
}

// ABTestSettings configures split testing for a campaign. Only accepted
// while the campaign is in draft.
type ABTestSettings struct {
	Enabled       bool            `json:"enabled"`
	Variants      []ABVariant     `json:"variants,omitempty"`
	Criterion     WinnerCriterion `json:"criterion,omitempty"`
	TestDuration  time.Duration   `json:"test_duration,omitempty"`
	WinnerVariant string          `json:"winner_variant,omitempty"`
}

func (a ABTestSettings) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ABTestSettings) Scan(value interface{}) error {
	if value == nil {
		*a = ABTestSettings{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, a)
}

// Campaign represents a configured, trackable batch email send with a
// lifecycle and aggregate metrics. Status is mutated only through the
// lifecycle service; counters only through the dispatch pipeline and
// engagement tracker.
type Campaign struct {
	ID              string           `json:"id" db:"id"`
	CreatedBy       string           `json:"created_by" db:"created_by"`
	Name            string           `json:"name" db:"name"`
	Type            CampaignType     `json:"type" db:"campaign_type"`
	Status          CampaignStatus   `json:"status" db:"status"`
	TemplateID      *string          `json:"template_id" db:"template_id"`
	TargetAudience  TargetAudience   `json:"target_audience" db:"target_audience"`
	Content         CampaignContent  `json:"content" db:"content"`
	Schedule        CampaignSchedule `json:"schedule" db:"schedule"`
	TrackOpens      bool             `json:"track_opens" db:"track_opens"`
	TrackClicks     bool             `json:"track_clicks" db:"track_clicks"`
	ABTest          *ABTestSettings  `json:"ab_test,omitempty" db:"ab_test"`

	// Counters (read-only, maintained by atomic repository updates)
	SentCount         int `json:"sent_count" db:"sent_count"`
	DeliveredCount    int `json:"delivered_count" db:"delivered_count"`
	OpenedCount       int `json:"opened_count" db:"opened_count"`
	ClickedCount      int `json:"clicked_count" db:"clicked_count"`
	BouncedCount      int `json:"bounced_count" db:"bounced_count"`
	UnsubscribedCount int `json:"unsubscribed_count" db:"unsubscribed_count"`
	ConversionsCount  int `json:"conversions_count" db:"conversions_count"`

	StartDate *time.Time `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date" db:"end_date"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}

// CampaignStats holds the derived engagement rates for a campaign.
type CampaignStats struct {
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	BounceRate     float64 `json:"bounce_rate"`
	ConversionRate float64 `json:"conversion_rate"`
	CTR            float64 `json:"ctr"` // click-to-open rate
}

// CalculateStats derives engagement rates from the raw counters.
func (c *Campaign) CalculateStats() CampaignStats {
	stats := CampaignStats{}
	if c.SentCount > 0 {
		stats.OpenRate = float64(c.OpenedCount) / float64(c.SentCount) * 100
		stats.ClickRate = float64(c.ClickedCount) / float64(c.SentCount) * 100
		stats.BounceRate = float64(c.BouncedCount) / float64(c.SentCount) * 100
		stats.ConversionRate = float64(c.ConversionsCount) / float64(c.SentCount) * 100
	}
	if c.OpenedCount > 0 {
		stats.CTR = float64(c.ClickedCount) / float64(c.OpenedCount) * 100
	}
	return stats
}
