package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// LeadStatus enumerates the sales pipeline stages of a lead.
type LeadStatus string

const (
	LeadNew         LeadStatus = "new"
	LeadContacted   LeadStatus = "contacted"
	LeadQualified   LeadStatus = "qualified"
	LeadProposal    LeadStatus = "proposal"
	LeadNegotiation LeadStatus = "negotiation"
	LeadClosedWon   LeadStatus = "closed_won"
	LeadClosedLost  LeadStatus = "closed_lost"
	LeadNurturing   LeadStatus = "nurturing"
)

// IsClosed reports whether the lead is in a terminal pipeline stage.
// Closed leads are not rescored.
func (s LeadStatus) IsClosed() bool {
	return s == LeadClosedWon || s == LeadClosedLost
}

// LeadSource identifies where a lead came from. Source quality feeds the
// scoring engine.
type LeadSource string

const (
	SourceReferral      LeadSource = "referral"
	SourceWebsite       LeadSource = "website"
	SourceSocialMedia   LeadSource = "social_media"
	SourceEmailCampaign LeadSource = "email_campaign"
	SourceAdvertisement LeadSource = "advertisement"
	SourcePhoneCall     LeadSource = "phone_call"
)

// QualificationThreshold is the score at or above which a lead is
// considered qualified.
const QualificationThreshold = 70

// ContactPreferences capture how and when a lead wants to be reached.
type ContactPreferences struct {
	BestTimeToCall  string `json:"best_time_to_call,omitempty"`
	PreferredMethod string `json:"preferred_method,omitempty"`
}

func (p ContactPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *ContactPreferences) Scan(value interface{}) error {
	if value == nil {
		*p = ContactPreferences{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, p)
}

// Requirements describe what a lead is looking for. Each populated field
// contributes to the specificity component of the lead score.
type Requirements struct {
	PropertyType string     `json:"property_type,omitempty"`
	Bedrooms     *int       `json:"bedrooms,omitempty"`
	Bathrooms    *int       `json:"bathrooms,omitempty"`
	Area         string     `json:"area,omitempty"`
	MoveInDate   *time.Time `json:"move_in_date,omitempty"`
	Furnished    *bool      `json:"furnished,omitempty"`
	Parking      *bool      `json:"parking,omitempty"`
}

func (r Requirements) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *Requirements) Scan(value interface{}) error {
	if value == nil {
		*r = Requirements{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, r)
}

// PopulatedFields counts how many requirement fields are set.
func (r Requirements) PopulatedFields() int {
	n := 0
	if r.PropertyType != "" {
		n++
	}
	if r.Bedrooms != nil {
		n++
	}
	if r.Bathrooms != nil {
		n++
	}
	if r.Area != "" {
		n++
	}
	if r.MoveInDate != nil {
		n++
	}
	if r.Furnished != nil {
		n++
	}
	if r.Parking != nil {
		n++
	}
	return n
}

// Lead is a prospective customer record subject to scoring and
// qualification. Score is always in [0,100]; IsQualified is derived and
// recomputed whenever the score changes.
type Lead struct {
	ID          string             `json:"id" db:"id"`
	FirstName   string             `json:"first_name" db:"first_name"`
	LastName    string             `json:"last_name" db:"last_name"`
	Email       string             `json:"email" db:"email"`
	Phone       string             `json:"phone,omitempty" db:"phone"`
	Company     string             `json:"company,omitempty" db:"company"`
	JobTitle    string             `json:"job_title,omitempty" db:"job_title"`
	Status      LeadStatus         `json:"status" db:"status"`
	Source      LeadSource         `json:"source" db:"source"`
	LeadType    string             `json:"lead_type,omitempty" db:"lead_type"`
	Location    string             `json:"location,omitempty" db:"location"`
	Budget      *float64           `json:"budget,omitempty" db:"budget"`
	Preferences ContactPreferences `json:"preferences" db:"preferences"`
	Requirements Requirements      `json:"requirements" db:"requirements"`
	Tags        []string           `json:"tags,omitempty" db:"tags"`
	Score       int                `json:"score" db:"score"`
	IsQualified bool               `json:"is_qualified" db:"is_qualified"`
	AssignedTo  string             `json:"assigned_to,omitempty" db:"assigned_to"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// ActivityType classifies a lead activity record.
type ActivityType string

const (
	ActivityCreated       ActivityType = "created"
	ActivityScored        ActivityType = "scored"
	ActivityQualified     ActivityType = "qualified"
	ActivityStatusChanged ActivityType = "status_changed"
	ActivityEmailOpened   ActivityType = "email_opened"
	ActivityEmailClicked  ActivityType = "email_clicked"
	ActivityNote          ActivityType = "note"
)

// LeadActivity is an immutable, append-only audit record for a lead.
// Activities are never updated or deleted except by bulk lead deletion.
type LeadActivity struct {
	ID        string       `json:"id" db:"id"`
	LeadID    string       `json:"lead_id" db:"lead_id"`
	Type      ActivityType `json:"type" db:"activity_type"`
	Details   JSON         `json:"details" db:"details"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// FollowUpTask is the collaborator-facing shape for the high-priority task
// created when a lead crosses the qualification threshold upward.
type FollowUpTask struct {
	LeadID   string    `json:"lead_id"`
	Title    string    `json:"title"`
	Priority string    `json:"priority"`
	DueAt    time.Time `json:"due_at"`
}
