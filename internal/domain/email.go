package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// EmailStatus enumerates the delivery/engagement states of a single
// dispatched email. The engagement axis only ever advances:
// pending < sent < delivered < opened < clicked. Bounced, complained,
// unsubscribed and failed are terminal regardless of prior state.
type EmailStatus string

const (
	EmailPending      EmailStatus = "pending"
	EmailSent         EmailStatus = "sent"
	EmailDelivered    EmailStatus = "delivered"
	EmailOpened       EmailStatus = "opened"
	EmailClicked      EmailStatus = "clicked"
	EmailBounced      EmailStatus = "bounced"
	EmailComplained   EmailStatus = "complained"
	EmailUnsubscribed EmailStatus = "unsubscribed"
	EmailFailed       EmailStatus = "failed"
)

// emailStatusRank orders statuses along the engagement axis. Terminal
// statuses rank above every engagement status so they are never
// downgraded by a late open or click.
var emailStatusRank = map[EmailStatus]int{
	EmailPending:      0,
	EmailSent:         1,
	EmailDelivered:    2,
	EmailOpened:       3,
	EmailClicked:      4,
	EmailBounced:      10,
	EmailComplained:   10,
	EmailUnsubscribed: 10,
	EmailFailed:       10,
}

// Rank returns the severity rank of s. Unknown statuses rank lowest.
func (s EmailStatus) Rank() int { return emailStatusRank[s] }

// IsTerminal reports whether s is one of the terminal failure states.
func (s EmailStatus) IsTerminal() bool { return emailStatusRank[s] >= 10 }

// ClickedLink is one entry in a CampaignEmail's append-only click log.
type ClickedLink struct {
	URL       string    `json:"url"`
	ClickedAt time.Time `json:"clicked_at"`
	UserAgent string    `json:"user_agent,omitempty"`
	Device    string    `json:"device,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
}

// ClickedLinks is the JSONB-backed click log.
type ClickedLinks []ClickedLink

func (l ClickedLinks) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]ClickedLink{})
	}
	return json.Marshal(l)
}

func (l *ClickedLinks) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, l)
}

// CampaignEmail is the per-recipient delivery/engagement record for one
// campaign. Exactly one exists per (campaign, recipient email); it is the
// idempotency anchor for dispatch. Created by the dispatch pipeline,
// mutated only by the engagement tracker and delivery-result callbacks.
type CampaignEmail struct {
	ID             string       `json:"id" db:"id"`
	CampaignID     string       `json:"campaign_id" db:"campaign_id"`
	RecipientID    string       `json:"recipient_id" db:"recipient_id"`
	RecipientEmail string       `json:"recipient_email" db:"recipient_email"`
	Variant        string       `json:"variant,omitempty" db:"variant"`
	Status         EmailStatus  `json:"status" db:"status"`
	MessageID      string       `json:"message_id,omitempty" db:"message_id"`
	FailureReason  string       `json:"failure_reason,omitempty" db:"failure_reason"`
	RetryCount     int          `json:"retry_count" db:"retry_count"`
	OpenCount      int          `json:"open_count" db:"open_count"`
	ClickCount     int          `json:"click_count" db:"click_count"`
	ClickedLinks   ClickedLinks `json:"clicked_links" db:"clicked_links"`
	SentAt         *time.Time   `json:"sent_at" db:"sent_at"`
	FirstOpenedAt  *time.Time   `json:"first_opened_at" db:"first_opened_at"`
	FirstClickedAt *time.Time   `json:"first_clicked_at" db:"first_clicked_at"`
	OpenedAt       *time.Time   `json:"opened_at" db:"opened_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Recipient is one resolved audience member, deduplicated by
// case-insensitive email address.
type Recipient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	OriginType string `json:"origin_type"` // "contact" or "lead"
}

// EmailMessage is the fully-resolved message handed to a Mailer. By the
// time a message reaches this struct, all token substitution and tracking
// injection is complete.
type EmailMessage struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"html"`
	TextBody string            `json:"text,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a Mailer after attempting delivery.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
}
